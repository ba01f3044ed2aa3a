package sound

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// KeptControls are the mixer controls a LevelKeeper holds at its target.
var KeptControls = []string{"PCM", "Master", "Speaker", "Headphone", "Digital", "Capture", "Mic"}

// Mixer reads and sets mixer control levels in percent.
type Mixer interface {
	Controls(ctx context.Context) ([]string, error)
	Volume(ctx context.Context, control string) (int, error)
	SetVolume(ctx context.Context, control string, percent int) error
}

// Amixer drives the amixer tool for one ALSA card.
type Amixer struct {
	card string
	run  func(ctx context.Context, args ...string) ([]byte, error)
}

// NewAmixer returns a mixer for card; an empty card means the ALSA default.
func NewAmixer(card string) *Amixer {
	return &Amixer{card: card, run: runAmixer}
}

func runAmixer(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "amixer", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("amixer %v: %w", args, err)
	}
	return out, nil
}

func (a *Amixer) command(ctx context.Context, args ...string) ([]byte, error) {
	if a.card != "" {
		args = append([]string{"-c", a.card}, args...)
	}
	return a.run(ctx, args...)
}

var (
	simpleControl = regexp.MustCompile(`(?m)^Simple mixer control '([^']+)',\d+`)
	percentLevel  = regexp.MustCompile(`\[(\d+)%\]`)
)

func (a *Amixer) Controls(ctx context.Context) ([]string, error) {
	out, err := a.command(ctx, "scontrols")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, m := range simpleControl.FindAllStringSubmatch(string(out), -1) {
		names = append(names, m[1])
	}
	return names, nil
}

func (a *Amixer) Volume(ctx context.Context, control string) (int, error) {
	out, err := a.command(ctx, "sget", control)
	if err != nil {
		return 0, err
	}
	m := percentLevel.FindStringSubmatch(string(out))
	if m == nil {
		return 0, fmt.Errorf("no level reported for %s", control)
	}
	return strconv.Atoi(m[1])
}

func (a *Amixer) SetVolume(ctx context.Context, control string, percent int) error {
	_, err := a.command(ctx, "sset", control, strconv.Itoa(percent)+"%")
	return err
}

// ExternalCardNumber returns the number of the external sound card listed in
// cardsPath, or "" when there is none.
func ExternalCardNumber(cardsPath string) string {
	raw, err := os.ReadFile(cardsPath)
	if err != nil {
		return ""
	}
	card, ok := PickExternalCard(ParseCards(string(raw)))
	if !ok {
		return ""
	}
	return strconv.Itoa(card.Number)
}

// LevelKeeper holds mixer levels at Target. Something else on the system
// (a desktop session, a reconnecting USB card) tends to reset them.
type LevelKeeper struct {
	Mixer     Mixer
	Target    int
	Tolerance int
	Interval  time.Duration
	Controls  []string
}

// Check sets every kept control that is more than Tolerance away from
// Target and returns how many were changed.
func (k *LevelKeeper) Check(ctx context.Context) (int, error) {
	available, err := k.Mixer.Controls(ctx)
	if err != nil {
		return 0, fmt.Errorf("list mixer controls: %w", err)
	}
	present := make(map[string]bool, len(available))
	for _, name := range available {
		present[name] = true
	}

	adjusted := 0
	for _, control := range k.Controls {
		if !present[control] {
			continue
		}
		current, err := k.Mixer.Volume(ctx, control)
		if err != nil {
			log.Warn().Err(err).Str("control", control).Msg("cannot read mixer level")
			continue
		}
		diff := current - k.Target
		if diff < 0 {
			diff = -diff
		}
		if diff <= k.Tolerance {
			continue
		}
		if err := k.Mixer.SetVolume(ctx, control, k.Target); err != nil {
			log.Warn().Err(err).Str("control", control).Msg("cannot set mixer level")
			continue
		}
		log.Info().Str("control", control).Int("from", current).Int("to", k.Target).Msg("mixer level adjusted")
		adjusted++
	}
	return adjusted, nil
}

// Run checks once immediately and then every Interval until ctx is done.
func (k *LevelKeeper) Run(ctx context.Context) {
	log.Info().Int("target", k.Target).Dur("interval", k.Interval).Msg("mixer level keeper started")
	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()
	for {
		if _, err := k.Check(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("mixer level check failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
