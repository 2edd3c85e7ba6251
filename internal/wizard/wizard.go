// Package wizard provides the interactive channel setup flow: creating a
// fresh channel, or importing a counterparty's export string.
package wizard

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/quietpost/stegochannel/internal/beacon"
	"github.com/quietpost/stegochannel/internal/channel"
	"github.com/quietpost/stegochannel/internal/feature"
)

// ErrNotInteractive is returned when the wizard runs without a terminal.
var ErrNotInteractive = errors.New("wizard: setup requires an interactive terminal")

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	hintStyle = lipgloss.NewStyle().Faint(true)
)

// Result contains the wizard output.
type Result struct {
	Channel *channel.Channel

	// Imported is set when the channel came from a counterparty's export
	// string rather than fresh key material.
	Imported bool
}

// Wizard manages the interactive setup process.
type Wizard struct{}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{}
}

// Run executes the interactive setup flow and returns the resulting
// channel. The caller persists it.
func (w *Wizard) Run() (*Result, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, ErrNotInteractive
	}

	fmt.Println(titleStyle.Render("StegoChannel setup"))
	fmt.Println(hintStyle.Render("Hidden messages ride on which posts you publish, not what they say."))
	fmt.Println()

	var mode string
	if err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("What would you like to do?").
			Options(
				huh.NewOption("Create a new channel", "create"),
				huh.NewOption("Import a channel string from your counterparty", "import"),
			).
			Value(&mode),
	)).Run(); err != nil {
		return nil, err
	}

	if mode == "import" {
		return w.runImport()
	}
	return w.runCreate()
}

func (w *Wizard) runCreate() (*Result, error) {
	var (
		label     string
		kind      string
		rate      = channel.FormatRate(channel.DefaultSelectionRate)
		features  = []string{string(feature.Len), string(feature.Media), string(feature.QMark)}
		threshold = strconv.Itoa(feature.DefaultLengthThreshold)
		peer      string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Channel label").
				Description("Local only; never shared.").
				Value(&label),
			huh.NewSelect[string]().
				Title("Beacon").
				Description("Public time source both parties key epochs to.").
				Options(
					huh.NewOption("UTC date (no network, daily epochs)", string(beacon.KindDate)),
					huh.NewOption("Bitcoin block hash (~10 minute epochs)", string(beacon.KindBTC)),
					huh.NewOption("NIST randomness beacon (60 second epochs)", string(beacon.KindNIST)),
				).
				Value(&kind),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Selection rate").
				Description("Fraction of posts carrying signal, e.g. 0.25.").
				Value(&rate).
				Validate(validateRate),
			huh.NewMultiSelect[string]().
				Title("Feature set").
				Description("Observable attributes that carry one bit each.").
				Options(
					huh.NewOption("Post length vs. threshold", string(feature.Len)).Selected(true),
					huh.NewOption("Media attachment", string(feature.Media)).Selected(true),
					huh.NewOption("Question mark in text", string(feature.QMark)).Selected(true),
				).
				Value(&features).
				Validate(validateFeatures),
			huh.NewInput().
				Title("Length threshold").
				Description("Code points at or above which a post counts as long.").
				Value(&threshold).
				Validate(validateThreshold),
			huh.NewInput().
				Title("Peer post source").
				Description("Identifier your post adapter resolves, e.g. a handle.").
				Value(&peer),
		),
	)
	if err := form.Run(); err != nil {
		return nil, err
	}

	parsedRate, err := channel.ParseRate(strings.TrimSpace(rate))
	if err != nil {
		return nil, err
	}
	set, err := feature.ParseSet(strings.Join(features, ","))
	if err != nil {
		return nil, err
	}
	lengthThreshold, err := strconv.Atoi(strings.TrimSpace(threshold))
	if err != nil {
		return nil, err
	}

	ch, err := channel.New(label, beacon.Kind(kind), parsedRate, set, lengthThreshold, strings.TrimSpace(peer))
	if err != nil {
		return nil, err
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Channel created"))
	fmt.Println("Share this string with your counterparty over a safe path, then destroy the copy:")
	fmt.Println(boxStyle.Render(ch.ExportString()))
	fmt.Println(hintStyle.Render("Anyone holding this string can read and forge the channel."))

	return &Result{Channel: ch}, nil
}

func (w *Wizard) runImport() (*Result, error) {
	var (
		exported string
		peer     string
	)

	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Channel string").
			Description("Paste the stegochannel:v0:... string you received.").
			Value(&exported).
			Validate(validateExport),
		huh.NewInput().
			Title("Peer post source").
			Description("Identifier your post adapter resolves for the counterparty.").
			Value(&peer),
	))
	if err := form.Run(); err != nil {
		return nil, err
	}

	ch, err := channel.Import(strings.TrimSpace(exported))
	if err != nil {
		return nil, err
	}
	ch.PeerSource = strings.TrimSpace(peer)

	fmt.Println()
	fmt.Println(titleStyle.Render("Channel imported"))
	fmt.Printf("Beacon %s, selection rate %s, features %s\n",
		ch.Beacon, channel.FormatRate(ch.SelectionRate), ch.Features)

	return &Result{Channel: ch, Imported: true}, nil
}

func validateRate(s string) error {
	_, err := channel.ParseRate(strings.TrimSpace(s))
	return err
}

func validateThreshold(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("enter a whole number")
	}
	if n <= 0 {
		return fmt.Errorf("threshold must be positive")
	}
	return nil
}

func validateFeatures(selected []string) error {
	if len(selected) == 0 {
		return fmt.Errorf("pick at least one feature")
	}
	return nil
}

func validateExport(s string) error {
	_, err := channel.Import(strings.TrimSpace(s))
	return err
}
