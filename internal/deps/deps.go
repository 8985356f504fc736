// Package deps reports whether the external pieces a transcription backend
// needs (executables, model files, credentials) are present.
package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/leonardotrapani/whisperbridge/internal/config"
	"github.com/leonardotrapani/whisperbridge/internal/language"
	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

// GoogleCredentialsEnv points the Google client at a service account file.
const GoogleCredentialsEnv = "GOOGLE_APPLICATION_CREDENTIALS"

// Status represents the installation status of a dependency
type Status struct {
	Installed bool
	Path      string
	Version   string
}

// CheckExecutable looks name up on PATH and, when versionArgs are given, runs
// it once to read the first line of its version output.
func CheckExecutable(name string, versionArgs ...string) Status {
	path, err := exec.LookPath(name)
	if err != nil {
		return Status{Installed: false}
	}

	status := Status{
		Installed: true,
		Path:      path,
	}
	if len(versionArgs) == 0 {
		return status
	}

	output, err := exec.Command(path, versionArgs...).CombinedOutput()
	if err == nil {
		// parse first line as version
		lines := strings.Split(string(output), "\n")
		if len(lines) > 0 {
			status.Version = strings.TrimSpace(lines[0])
		}
	}

	return status
}

// CheckWhisperCli checks if whisper-cli is installed and returns its status
func CheckWhisperCli() Status {
	return CheckExecutable(transcriber.WhisperCliBinary, "--version")
}

// Check is one line of a readiness report.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Report lists what the configured provider needs and whether it is there.
// The first entry is always the config validation itself.
func Report(cfg *config.Config) []Check {
	checks := []Check{validCheck(cfg)}
	tc := cfg.ToTranscriberConfig()

	switch tc.Provider {
	case transcriber.ProviderWhisperCpp:
		checks = append(checks, executableCheck(CheckWhisperCli()), modelFileCheck(tc.ModelPath),
			languageCheck(cfg.Transcription.Language))

	case transcriber.ProviderOpenAI, transcriber.ProviderGroq:
		c := Check{Name: tc.Provider + " API key", OK: tc.APIKey != ""}
		if c.OK {
			c.Detail = "configured"
		} else {
			c.Detail = fmt.Sprintf("set providers.%s.api_key or %s", tc.Provider, transcriber.EnvVarForProvider(tc.Provider))
		}
		checks = append(checks, c, languageCheck(cfg.Transcription.Language))

	case transcriber.ProviderGoogle:
		checks = append(checks, googleCredentialsCheck())
	}

	return checks
}

func validCheck(cfg *config.Config) Check {
	if err := cfg.Validate(); err != nil {
		return Check{Name: "config", OK: false, Detail: err.Error()}
	}
	return Check{Name: "config", OK: true, Detail: "valid"}
}

// languageCheck names the language a whisper model will be asked for.
func languageCheck(code string) Check {
	c := Check{Name: "language"}
	hint, err := language.ParseHint(code)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	if hint.IsAuto() {
		c.OK = true
		c.Detail = language.Auto.Name
		return c
	}

	lang := language.FromCode(hint.Whisper())
	if lang.Code == "" {
		c.Detail = language.Label(code) + " is not a whisper language"
		return c
	}
	c.OK = true
	c.Detail = fmt.Sprintf("%s (%s)", lang.Name, lang.NativeName)
	return c
}

func executableCheck(s Status) Check {
	c := Check{Name: transcriber.WhisperCliBinary, OK: s.Installed}
	switch {
	case !s.Installed:
		c.Detail = "not found on PATH (install whisper.cpp)"
	case s.Version != "":
		c.Detail = fmt.Sprintf("%s (%s)", s.Path, s.Version)
	default:
		c.Detail = s.Path
	}
	return c
}

func modelFileCheck(path string) Check {
	c := Check{Name: "model file"}
	if path == "" {
		c.Detail = "unknown model"
		return c
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		c.Detail = fmt.Sprintf("%s not found", path)
	case info.Size() == 0:
		c.Detail = fmt.Sprintf("%s is empty", path)
	default:
		c.OK = true
		c.Detail = path
	}
	return c
}

func googleCredentialsCheck() Check {
	if path := os.Getenv(GoogleCredentialsEnv); path != "" {
		if _, err := os.Stat(path); err != nil {
			return Check{Name: "google credentials", OK: false, Detail: fmt.Sprintf("%s=%s not readable", GoogleCredentialsEnv, path)}
		}
		return Check{Name: "google credentials", OK: true, Detail: path}
	}
	return Check{Name: "google credentials", OK: true, Detail: "application default credentials"}
}
