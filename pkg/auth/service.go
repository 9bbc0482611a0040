// Package auth implements the two enrollment and login workflows on top of
// the gallery, the match index, and the one-time passcode ledgers. Every
// state change that matters is gated behind a mailed code.
package auth

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/facegate/facegate/pkg/config"
	"github.com/facegate/facegate/pkg/gallery"
	"github.com/facegate/facegate/pkg/imaging"
	"github.com/facegate/facegate/pkg/index"
	"github.com/facegate/facegate/pkg/logging"
	"github.com/facegate/facegate/pkg/notify"
	"github.com/facegate/facegate/pkg/otp"
)

// stagingPayload travels with a pending signup code so confirmation knows
// which staging directory to commit and which address to store.
type stagingPayload struct {
	Dir   string
	Email string
}

// Store is the gallery surface the service needs.
type Store interface {
	Email(name string) (string, error)
	Identities() ([]string, error)
	AddImage(name string, img *image.Gray, tag string) (string, error)
	NewStaging(name string) (*gallery.StagingSession, error)
	DiscardStaging(dir string)
	CommitStaging(name, stagingDir, email string) (int, error)
}

// Service ties the components together. It is safe for concurrent use; the
// ledgers and the engine carry their own locking and the gallery operations
// are independent per identity.
type Service struct {
	store    Store
	engine   index.Engine
	detector index.FaceDetector
	notifier notify.Notifier

	signup *otp.Ledger
	login  *otp.Ledger
	ttl    time.Duration

	minImages  int
	cropMargin float64
	faceSize   int

	log interface {
		Infof(format string, args ...interface{})
		Warnf(format string, args ...interface{})
	}
}

// NewService wires a service from its collaborators.
func NewService(store Store, engine index.Engine, detector index.FaceDetector,
	notifier notify.Notifier, enroll config.EnrollmentConfig, ttl time.Duration) *Service {
	return &Service{
		store:      store,
		engine:     engine,
		detector:   detector,
		notifier:   notifier,
		signup:     otp.NewLedger(ttl),
		login:      otp.NewLedger(ttl),
		ttl:        ttl,
		minImages:  enroll.MinImages,
		cropMargin: enroll.CropMargin,
		faceSize:   enroll.FaceSize,
		log:        logging.Component("auth"),
	}
}

// prepareFrame decodes a submitted frame and produces the face crop that
// gets stored: the detected box expanded by the crop margin, or the whole
// frame when no face is found, scaled to the canonical size.
func (s *Service) prepareFrame(data []byte) (*image.Gray, error) {
	gray, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}

	crop := gray
	if s.detector != nil {
		if box, found := s.detector.Detect(gray); found {
			if c, ok := imaging.CropMargin(gray, box, s.cropMargin); ok {
				crop = c
			}
		}
	}
	return imaging.Resize(crop, s.faceSize, s.faceSize), nil
}

// Begin starts an enrollment: it stages face crops from the submitted
// frames and mails a confirmation code. Nothing becomes part of the gallery
// until Confirm succeeds. Starting over for the same name replaces the
// pending code and removes the superseded staging directory.
func (s *Service) Begin(name, email string, frames [][]byte) error {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return &ValidationError{Reason: "name must not be empty"}
	}
	// The name becomes a directory under the gallery roots.
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return &ValidationError{Reason: "name must not contain path separators"}
	}
	if email == "" {
		return &ValidationError{Reason: "email must not be empty"}
	}
	if len(frames) < s.minImages {
		return &ValidationError{
			Reason: fmt.Sprintf("need at least %d images, got %d", s.minImages, len(frames)),
		}
	}

	sess, err := s.store.NewStaging(name)
	if err != nil {
		return err
	}

	for i, frame := range frames {
		img, err := s.prepareFrame(frame)
		if err != nil {
			sess.Discard()
			return &ProcessingError{Index: i + 1, Err: err}
		}
		if err := sess.Add(img); err != nil {
			sess.Discard()
			return &ProcessingError{Index: i + 1, Err: err}
		}
	}

	code, replaced := s.signup.Issue(name, stagingPayload{Dir: sess.Dir, Email: email})
	if replaced != nil {
		if p, ok := replaced.Payload.(stagingPayload); ok {
			s.store.DiscardStaging(p.Dir)
		}
	}

	if err := s.notifier.Send(email, "Your enrollment code", s.codeBody(code)); err != nil {
		// Staging and the code stay pending so delivery can be retried.
		s.log.Warnf("Failed to mail enrollment code for %s: %v", name, err)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.log.Infof("Enrollment staged for %s: %d images awaiting confirmation", name, sess.Count())
	return nil
}

// Confirm completes an enrollment. On a valid code the staged images move
// into the gallery and the index is rebuilt; the commit stands even when
// the rebuild fails. Returns whether the index is trained afterwards.
func (s *Service) Confirm(name, code string) (bool, error) {
	result, payload := s.signup.Verify(name, code)
	switch result {
	case otp.NotFound:
		return false, ErrOTPNotFound
	case otp.Expired:
		if p, ok := payload.(stagingPayload); ok {
			s.store.DiscardStaging(p.Dir)
		}
		return false, ErrOTPExpired
	case otp.Invalid:
		return false, ErrOTPInvalid
	}

	p, ok := payload.(stagingPayload)
	if !ok {
		return false, fmt.Errorf("pending enrollment for %s has no staging data", name)
	}

	n, err := s.store.CommitStaging(name, p.Dir, p.Email)
	if err != nil {
		return false, fmt.Errorf("failed to commit enrollment: %w", err)
	}
	s.log.Infof("Enrollment confirmed for %s: %d images committed", name, n)

	trained, err := s.engine.Rebuild()
	if err != nil {
		// The enrollment is already committed and is never rolled back.
		s.log.Warnf("Index rebuild after enrollment failed: %v", err)
		return false, nil
	}
	return trained, nil
}

// SendLoginCode mails a login code to an enrolled identity's address.
func (s *Service) SendLoginCode(name string) error {
	email, err := s.store.Email(name)
	if err != nil {
		return err
	}

	code, _ := s.login.Issue(name, nil)
	if err := s.notifier.Send(email, "Your login code", s.codeBody(code)); err != nil {
		s.log.Warnf("Failed to mail login code for %s: %v", name, err)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// VerifyLogin checks a login code. On success an optional captured frame is
// appended to the identity's gallery and the index rebuilt; neither step can
// fail the login.
func (s *Service) VerifyLogin(name, code string, frame []byte) error {
	result, _ := s.login.Verify(name, code)
	switch result {
	case otp.NotFound:
		return ErrOTPNotFound
	case otp.Expired:
		return ErrOTPExpired
	case otp.Invalid:
		return ErrOTPInvalid
	}

	if len(frame) > 0 {
		if img, err := s.prepareFrame(frame); err != nil {
			s.log.Warnf("Ignoring unusable login capture for %s: %v", name, err)
		} else if _, err := s.store.AddImage(name, img, "login"); err != nil {
			s.log.Warnf("Failed to store login capture for %s: %v", name, err)
		} else if _, err := s.engine.Rebuild(); err != nil {
			s.log.Warnf("Index rebuild after login failed: %v", err)
		}
	}

	s.log.Infof("Login verified for %s", name)
	return nil
}

// Identify matches an encoded frame against the index.
func (s *Service) Identify(frame []byte) index.Outcome {
	gray, err := imaging.Decode(frame)
	if err != nil {
		return index.Outcome{Status: index.StatusError, Detail: err.Error()}
	}
	return s.engine.Identify(gray)
}

// Identities lists the enrolled names.
func (s *Service) Identities() ([]string, error) {
	return s.store.Identities()
}

// Health reports the engine state.
func (s *Service) Health() index.Health {
	return index.Health{Mode: s.engine.Mode(), Trained: s.engine.Trained()}
}

func (s *Service) codeBody(code string) string {
	minutes := int(s.ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Your verification code is %s. (Valid for %d minutes)", code, minutes)
}
