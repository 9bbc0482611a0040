package auth

import (
	"errors"
	"image"

	"github.com/facegate/facegate/pkg/index"
)

type sentMail struct {
	to      string
	subject string
	body    string
}

// fakeNotifier records every message; it can be told to fail delivery
// after recording so tests still see the code that was generated.
type fakeNotifier struct {
	sent []sentMail
	fail bool
}

func (n *fakeNotifier) Send(to, subject, body string) error {
	n.sent = append(n.sent, sentMail{to: to, subject: subject, body: body})
	if n.fail {
		return errors.New("relay down")
	}
	return nil
}

type stubEngine struct {
	rebuilds       int
	rebuildTrained bool
	rebuildErr     error
	outcome        index.Outcome
	trained        bool
	mode           index.Mode
}

func (e *stubEngine) Rebuild() (bool, error) {
	e.rebuilds++
	return e.rebuildTrained, e.rebuildErr
}

func (e *stubEngine) Identify(gray *image.Gray) index.Outcome { return e.outcome }
func (e *stubEngine) Trained() bool                           { return e.trained }
func (e *stubEngine) Mode() index.Mode                        { return e.mode }

type stubDetector struct{ found bool }

func (d stubDetector) Detect(gray *image.Gray) (image.Rectangle, bool) {
	if !d.found || gray == nil {
		return image.Rectangle{}, false
	}
	return gray.Bounds(), true
}
