// Package setup runs the interactive terminal configuration wizard.
package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/investbot/config"
	"github.com/vadiminshakov/investbot/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// answers holds the raw wizard input.
type answers struct {
	brokerURL     string
	simulateFills bool
	backend       string
	sessionPath   string
	dsn           string
	stake         string
	asset         string
	expiry        string
	calls         string
	puts          string
	cooldown      string
	addr          string
	tgToken       string
	tgChatID      string
}

func defaults() answers {
	f := config.DefaultFile()
	return answers{
		brokerURL:     f.Broker.BaseURL,
		simulateFills: f.Broker.SimulateFills,
		backend:       f.Session.Backend,
		sessionPath:   f.Session.Path,
		stake:         f.Robot.Stake,
		asset:         f.Robot.Asset,
		expiry:        strconv.Itoa(f.Robot.ExpirySeconds),
		calls:         strconv.Itoa(f.Robot.CallCount),
		puts:          strconv.Itoa(f.Robot.PutCount),
		cooldown:      f.Robot.Cooldown.String(),
		addr:          f.Server.Addr,
	}
}

func step(title string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("INVESTBOT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(title))
}

// RunTUI launches the wizard and returns the path of the written config.
func RunTUI() (string, error) {
	a := defaults()
	var confirm bool

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("INVESTBOT CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Configure the broker, the session and the trade cycle.\n"))

	fmt.Println(stepStyle.Render("STEP 1: BROKER"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Broker API base URL").
				Value(&a.brokerURL).
				Validate(notEmpty("base url")),
			huh.NewConfirm().
				Title("Simulate fills when the broker does not confirm a trade?").
				Description("Simulated trades are tagged in the history").
				Value(&a.simulateFills),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("STEP 2: SESSION STORAGE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should the broker session be kept?").
				Options(
					huh.NewOption("Local file", config.SessionBackendFile),
					huh.NewOption("Postgres", config.SessionBackendPostgres),
				).
				Value(&a.backend),
		),
	).Run()
	if err != nil {
		return "", err
	}

	storage := huh.NewInput().Title("Session file").Value(&a.sessionPath).Validate(notEmpty("path"))
	if a.backend == config.SessionBackendPostgres {
		storage = huh.NewInput().
			Title("Postgres DSN").
			Description(fmt.Sprintf("Leave empty to use %s", config.EnvDatabaseDSN)).
			Value(&a.dsn)
	}
	if err := huh.NewForm(huh.NewGroup(storage)).Run(); err != nil {
		return "", err
	}

	step("STEP 3: TRADE CYCLE")
	assetOptions := make([]huh.Option[string], 0, len(domain.DefaultAssets()))
	for _, asset := range domain.DefaultAssets() {
		assetOptions = append(assetOptions, huh.NewOption(asset.Name, asset.Symbol))
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Stake per option").
				Value(&a.stake).
				Validate(validateStake),
			huh.NewSelect[string]().
				Title("Asset").
				Options(assetOptions...).
				Value(&a.asset),
			huh.NewInput().
				Title("Expiry, seconds").
				Value(&a.expiry).
				Validate(validateCount(1)),
			huh.NewInput().
				Title("CALL options per cycle").
				Value(&a.calls).
				Validate(validateCount(0)),
			huh.NewInput().
				Title("PUT options per cycle").
				Value(&a.puts).
				Validate(validateCount(0)),
			huh.NewInput().
				Title("Cooldown between cycles").
				Description("Duration string (e.g. 10s, 1m)").
				Value(&a.cooldown).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("STEP 4: API AND NOTIFICATIONS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API listen address").
				Value(&a.addr).
				Validate(notEmpty("address")),
			huh.NewInput().
				Title("Telegram bot token").
				Description(fmt.Sprintf("Optional, %s also works", config.EnvTelegramToken)).
				Value(&a.tgToken).
				EchoMode(huh.EchoModePassword),
			huh.NewInput().
				Title("Telegram chat id").
				Value(&a.tgChatID).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					_, err := strconv.ParseInt(s, 10, 64)
					return err
				}),
		),
	).Run()
	if err != nil {
		return "", err
	}

	file, err := a.file()
	if err != nil {
		return "", err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Broker: %s\nSession: %s\nCycle: %d CALL + %d PUT on %s, stake %s, expiry %ds\nAPI: %s\n",
		file.Broker.BaseURL, file.Session.Backend, file.Robot.CallCount, file.Robot.PutCount,
		file.Robot.Asset, file.Robot.Stake, file.Robot.ExpirySeconds, file.Server.Addr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", errors.New("setup cancelled by user")
	}

	if err := Save(file, config.GeneratedFile); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting robot...", config.GeneratedFile)))
	time.Sleep(1500 * time.Millisecond)

	return config.GeneratedFile, nil
}

// file converts the answers into a config file on top of the defaults.
func (a answers) file() (config.File, error) {
	f := config.DefaultFile()

	f.Broker.BaseURL = strings.TrimSpace(a.brokerURL)
	f.Broker.SimulateFills = a.simulateFills
	f.Session.Backend = a.backend
	f.Session.Path = a.sessionPath
	f.Session.DSN = a.dsn
	f.Robot.Stake = a.stake
	f.Robot.Asset = a.asset
	f.Server.Addr = a.addr
	f.Telegram.Token = a.tgToken

	var err error
	if f.Robot.ExpirySeconds, err = strconv.Atoi(a.expiry); err != nil {
		return config.File{}, errors.Wrap(err, "expiry")
	}
	if f.Robot.CallCount, err = strconv.Atoi(a.calls); err != nil {
		return config.File{}, errors.Wrap(err, "call count")
	}
	if f.Robot.PutCount, err = strconv.Atoi(a.puts); err != nil {
		return config.File{}, errors.Wrap(err, "put count")
	}
	if f.Robot.Cooldown, err = time.ParseDuration(a.cooldown); err != nil {
		return config.File{}, errors.Wrap(err, "cooldown")
	}
	if a.tgChatID != "" {
		if f.Telegram.ChatID, err = strconv.ParseInt(a.tgChatID, 10, 64); err != nil {
			return config.File{}, errors.Wrap(err, "telegram chat id")
		}
	}

	if f.Robot.CallCount+f.Robot.PutCount == 0 {
		return config.File{}, errors.New("the cycle needs at least one CALL or PUT")
	}

	return f, nil
}

// Save writes f as yaml to path.
func Save(f config.File, path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}
	return nil
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}

func validateStake(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateCount(min int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("must be an integer")
		}
		if n < min {
			return fmt.Errorf("must be at least %d", min)
		}
		return nil
	}
}
