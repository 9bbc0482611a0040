package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/facegate/facegate/pkg/auth"
	"github.com/facegate/facegate/pkg/config"
	"github.com/facegate/facegate/pkg/detect"
	"github.com/facegate/facegate/pkg/embed"
	"github.com/facegate/facegate/pkg/gallery"
	"github.com/facegate/facegate/pkg/index"
	"github.com/facegate/facegate/pkg/logging"
	"github.com/facegate/facegate/pkg/notify"
)

const version = "0.1.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
)

func init() {
	commands = map[string]*Command{
		"enroll": {
			Name:        "enroll",
			Description: "Stage an enrollment from face images and mail a code",
			Usage:       "facegate enroll <name> <email> <image>...",
			Run:         cmdEnroll,
		},
		"confirm": {
			Name:        "confirm",
			Description: "Confirm a staged enrollment with the mailed code",
			Usage:       "facegate confirm <name> <code>",
			Run:         cmdConfirm,
		},
		"send-code": {
			Name:        "send-code",
			Description: "Mail a login code to an enrolled user",
			Usage:       "facegate send-code <name>",
			Run:         cmdSendCode,
		},
		"login": {
			Name:        "login",
			Description: "Verify a login code, optionally with a captured frame",
			Usage:       "facegate login <name> <code> [image]",
			Run:         cmdLogin,
		},
		"identify": {
			Name:        "identify",
			Description: "Identify the face in an image against the gallery",
			Usage:       "facegate identify <image>",
			Run:         cmdIdentify,
		},
		"rebuild": {
			Name:        "rebuild",
			Description: "Rebuild the match index from the gallery",
			Usage:       "facegate rebuild",
			Run:         cmdRebuild,
		},
		"list": {
			Name:        "list",
			Description: "List all enrolled users",
			Usage:       "facegate list",
			Run:         cmdList,
		},
		"health": {
			Name:        "health",
			Description: "Show recognition mode and training state",
			Usage:       "facegate health",
			Run:         cmdHealth,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "facegate config",
			Run:         cmdConfig,
		},
		"download-models": {
			Name:        "download-models",
			Description: "Download the face detection cascade",
			Usage:       "facegate download-models [directory]",
			Run:         cmdDownloadModels,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "facegate version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "facegate help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	args := flag.Args()

	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}

	cfg.ExpandPaths()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("Facegate v%s starting", version)
	logging.Debugf("Config loaded, storage dir: %s", cfg.Storage.DataDir)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	if err := cmd.Run(args[1:]); err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Facegate - Face Identification with Mailed One-Time Codes")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: facegate [options] <command> [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>   Path to configuration file")
	fmt.Println("  -debug           Enable debug logging")
	fmt.Println("\nCommands:")
	for _, name := range []string{
		"enroll", "confirm", "send-code", "login", "identify",
		"rebuild", "list", "health", "config", "download-models", "version", "help",
	} {
		cmd := commands[name]
		fmt.Printf("  %-16s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nExamples:")
	fmt.Println("  facegate enroll john john@example.com shots/*.jpg")
	fmt.Println("  facegate confirm john 4821")
	fmt.Println("  facegate identify capture.jpg")
	fmt.Println("\nRun 'facegate help <command>' for more information on a command.")
}

// failedNotifier is wired in when mail is not configured, so workflows that
// need delivery fail with a clear message instead of a nil dereference.
type failedNotifier struct{ err error }

func (n failedNotifier) Send(to, subject, body string) error {
	return fmt.Errorf("mail not configured: %w", n.err)
}

// buildService assembles the engine and workflows from the configuration.
func buildService() (*auth.Service, index.Engine, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, fmt.Errorf("failed to create directories: %w", err)
	}

	store, err := gallery.NewStore(cfg.UsersDir(), cfg.StagingDir())
	if err != nil {
		return nil, nil, err
	}

	var detector index.FaceDetector
	d, err := detect.New(cfg.Detection.CascadeFile, detect.Options{
		MinSize:     cfg.Detection.MinSize,
		MaxSize:     cfg.Detection.MaxSize,
		ShiftFactor: cfg.Detection.ShiftFactor,
		ScaleFactor: cfg.Detection.ScaleFactor,
		Quality:     cfg.Detection.Quality,
	})
	if err != nil {
		logging.WithError(err).Warn("Face detection cascade unavailable, run 'facegate download-models'")
	} else {
		detector = d
	}

	embed.SetRuntimeLibrary(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"))

	engine := index.New(index.Options{
		TrainerDir:          cfg.TrainerDir(),
		ModelFile:           cfg.Embedding.ModelFile,
		InputName:           cfg.Embedding.InputName,
		OutputName:          cfg.Embedding.OutputName,
		SimilarityThreshold: cfg.Embedding.SimilarityThreshold,
		DistanceThreshold:   cfg.Fallback.DistanceThreshold,
		GridX:               cfg.Fallback.GridX,
		GridY:               cfg.Fallback.GridY,
		FaceSize:            cfg.Enrollment.FaceSize,
	}, detector, store)

	// First run on a populated gallery: build the index before serving.
	if !engine.Trained() {
		if trained, err := engine.Rebuild(); err != nil {
			logging.WithError(err).Warn("Initial index build failed")
		} else if trained {
			logging.Info("Index built from existing gallery")
		}
	}

	var notifier notify.Notifier
	if n, err := notify.NewSMTP(cfg.SMTP); err != nil {
		logging.WithError(err).Warn("Mail delivery not configured")
		notifier = failedNotifier{err: err}
	} else {
		notifier = n
	}

	ttl := time.Duration(cfg.OTP.TTLSeconds) * time.Second
	return auth.NewService(store, engine, detector, notifier, cfg.Enrollment, ttl), engine, nil
}

func readFrames(paths []string) ([][]byte, error) {
	frames := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}

// Command implementations

func cmdEnroll(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("name, email and images required\nUsage: facegate enroll <name> <email> <image>...")
	}
	name, email := args[0], args[1]

	frames, err := readFrames(args[2:])
	if err != nil {
		return err
	}

	service, _, err := buildService()
	if err != nil {
		return err
	}

	if err := service.Begin(name, email, frames); err != nil {
		return err
	}

	fmt.Printf("Enrollment staged for '%s' with %d images.\n", name, len(frames))
	fmt.Printf("A confirmation code was sent to %s.\n", email)
	fmt.Printf("Complete it with: facegate confirm %s <code>\n", name)
	return nil
}

func cmdConfirm(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("name and code required\nUsage: facegate confirm <name> <code>")
	}
	name, code := args[0], args[1]

	service, _, err := buildService()
	if err != nil {
		return err
	}

	trained, err := service.Confirm(name, code)
	if err != nil {
		return err
	}

	fmt.Printf("Enrollment confirmed for '%s'.\n", name)
	if !trained {
		fmt.Println("Warning: the match index could not be rebuilt; run 'facegate rebuild'.")
	}
	return nil
}

func cmdSendCode(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("name required\nUsage: facegate send-code <name>")
	}
	name := args[0]

	service, _, err := buildService()
	if err != nil {
		return err
	}

	if err := service.SendLoginCode(name); err != nil {
		return err
	}

	fmt.Printf("Login code sent to the address on record for '%s'.\n", name)
	return nil
}

func cmdLogin(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("name and code required\nUsage: facegate login <name> <code> [image]")
	}
	name, code := args[0], args[1]

	var frame []byte
	if len(args) > 2 {
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[2], err)
		}
		frame = data
	}

	service, _, err := buildService()
	if err != nil {
		return err
	}

	if err := service.VerifyLogin(name, code, frame); err != nil {
		return err
	}

	fmt.Printf("Login verified for '%s'.\n", name)
	return nil
}

func cmdIdentify(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("image required\nUsage: facegate identify <image>")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	service, _, err := buildService()
	if err != nil {
		return err
	}

	out := service.Identify(data)
	switch out.Status {
	case index.StatusMatch:
		fmt.Printf("Match: %s (score %.2f)\n", out.Name, out.Score)
	case index.StatusNotFound:
		fmt.Printf("No match (best score %.2f)\n", out.Score)
	case index.StatusNoFace:
		fmt.Println("No face found in the image.")
	case index.StatusNotTrained:
		fmt.Println("The match index is empty; enroll someone first.")
	default:
		fmt.Printf("Recognition failed: %s\n", out.Detail)
	}
	return nil
}

func cmdRebuild(args []string) error {
	_, engine, err := buildService()
	if err != nil {
		return err
	}

	trained, err := engine.Rebuild()
	if err != nil {
		return err
	}
	if !trained {
		fmt.Println("The gallery holds no usable faces; the index is unchanged.")
		return nil
	}
	fmt.Println("Match index rebuilt.")
	return nil
}

func cmdList(args []string) error {
	service, _, err := buildService()
	if err != nil {
		return err
	}

	names, err := service.Identities()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No users enrolled.")
		return nil
	}

	fmt.Println("Enrolled users:")
	for _, name := range names {
		fmt.Printf("  - %s\n", name)
	}
	fmt.Printf("\nTotal: %d user(s)\n", len(names))
	return nil
}

func cmdHealth(args []string) error {
	service, _, err := buildService()
	if err != nil {
		return err
	}

	data, err := json.Marshal(service.Health())
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func cmdConfig(args []string) error {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()
	fmt.Println("[Storage]")
	fmt.Printf("  Data Dir:        %s\n", cfg.Storage.DataDir)
	fmt.Println()
	fmt.Println("[Detection]")
	fmt.Printf("  Cascade:         %s\n", cfg.Detection.CascadeFile)
	fmt.Printf("  Size Range:      %d-%d px\n", cfg.Detection.MinSize, cfg.Detection.MaxSize)
	fmt.Printf("  Quality:         %.1f\n", cfg.Detection.Quality)
	fmt.Println()
	fmt.Println("[Embedding]")
	fmt.Printf("  Model:           %s\n", cfg.Embedding.ModelFile)
	fmt.Printf("  Similarity:      %.2f\n", cfg.Embedding.SimilarityThreshold)
	fmt.Println()
	fmt.Println("[Fallback]")
	fmt.Printf("  Grid:            %dx%d\n", cfg.Fallback.GridX, cfg.Fallback.GridY)
	fmt.Printf("  Distance:        %.1f\n", cfg.Fallback.DistanceThreshold)
	fmt.Println()
	fmt.Println("[Enrollment]")
	fmt.Printf("  Min Images:      %d\n", cfg.Enrollment.MinImages)
	fmt.Printf("  Crop Margin:     %.2f\n", cfg.Enrollment.CropMargin)
	fmt.Printf("  Face Size:       %d px\n", cfg.Enrollment.FaceSize)
	fmt.Println()
	fmt.Println("[OTP]")
	fmt.Printf("  TTL:             %d seconds\n", cfg.OTP.TTLSeconds)
	fmt.Println()
	fmt.Println("[SMTP]")
	fmt.Printf("  Host:            %s:%d\n", cfg.SMTP.Host, cfg.SMTP.Port)
	fmt.Printf("  From:            %s\n", cfg.SMTP.From)
	fmt.Println()
	fmt.Println("[Logging]")
	fmt.Printf("  Level:           %s\n", cfg.Logging.Level)
	fmt.Printf("  File:            %s\n", cfg.Logging.File)
	return nil
}

func cmdVersion(args []string) error {
	fmt.Printf("Facegate v%s\n", version)
	fmt.Println("Face Identification with Mailed One-Time Codes")
	return nil
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Printf("Command: %s\n", cmd.Name)
	fmt.Printf("Description: %s\n", cmd.Description)
	fmt.Printf("Usage: %s\n", cmd.Usage)

	switch cmdName {
	case "enroll":
		fmt.Println("\nEnrollment Process:")
		fmt.Println("  1. Capture at least the configured minimum of face images")
		fmt.Println("  2. Run enroll with the image paths; crops are staged, not committed")
		fmt.Println("  3. A confirmation code is mailed to the given address")
		fmt.Println("  4. Run 'facegate confirm' with the code to commit the enrollment")
	case "login":
		fmt.Println("\nLogin Process:")
		fmt.Println("  1. Request a code with 'facegate send-code'")
		fmt.Println("  2. Verify it with 'facegate login'; an optional capture is")
		fmt.Println("     appended to your gallery to keep the index fresh")
	case "config":
		fmt.Println("\nConfiguration Locations:")
		fmt.Println("  System: /etc/facegate/facegate.yaml")
		fmt.Println("  User:   ~/.config/facegate/facegate.yaml")
		fmt.Println("\nUse -config flag to specify a custom config file.")
	}

	return nil
}
