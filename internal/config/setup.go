package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/rcon"
)

// RunSetupWizard interactively adds a server profile on stdin/stdout and
// saves the configuration.
func RunSetupWizard(cfg *Config) error {
	return runWizard(cfg, bufio.NewReader(os.Stdin), os.Stdout)
}

func runWizard(cfg *Config, reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║            rconnect - Add a server           ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Known games: %s\n\n", strings.Join(rcon.Games(), ", "))

	p := ServerProfile{Port: 27015}

	fmt.Fprintln(out, "── Server ──")
	p.Name = promptString(reader, out, "Profile name (e.g. main)", "main")
	p.Game = promptString(reader, out, "Game", "valve")
	p.Host = promptString(reader, out, "Host", "127.0.0.1")
	p.Port = promptInt(reader, out, "RCON port", DefaultPort(p.Game))
	p.Password = promptPassword(reader, out, "RCON password")
	p.Secure = promptBool(reader, out, "Use TLS", false)

	result := &ValidationResult{}
	ValidateProfile(p, "server", result)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Profile has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return runWizard(cfg, reader, out)
		}
		return fmt.Errorf("profile validation failed")
	}
	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	cfg.UpsertServer(p)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Telemetry ──")
	cfg.mu.Lock()
	cfg.MQTT.Enabled = promptBool(reader, out, "Publish events over MQTT", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = promptString(reader, out, "MQTT broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = promptInt(reader, out, "MQTT broker port", cfg.MQTT.Port)
	}
	cfg.mu.Unlock()

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Profile %q saved to %s\n\n", p.Name, cfg.Path())
	return nil
}

// DefaultPort suggests the usual RCON port for a game.
func DefaultPort(game string) int {
	profile, err := rcon.Lookup(game)
	if err != nil {
		return 27015
	}
	switch profile.Family {
	case rcon.FamilyBattlEye:
		return 2306
	case rcon.FamilySession:
		return 7779
	case rcon.FamilyTelnet:
		return 8081
	case rcon.FamilyWebRcon:
		return 28016
	}
	if profile.Game == "minecraft" {
		return 25575
	}
	return 27015
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptPassword(reader *bufio.Reader, out io.Writer, prompt string) string {
	fmt.Fprintf(out, "  %s: ", prompt)
	input, _ := reader.ReadString('\n')
	return strings.TrimRight(input, "\r\n")
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
