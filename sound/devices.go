package sound

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

var (
	externalKeywords = []string{"USB", "KT USB", "MICROPHONE", "HEADSET", "WEBCAM"}
	builtinKeywords  = []string{"BCM2835", "VC4-HDMI", "HEADPHONES", "HDMI"}
)

// IsExternalName reports whether a device or card description looks like an
// external (USB) audio interface rather than the board's built-in audio.
func IsExternalName(name string) bool {
	upper := strings.ToUpper(name)
	for _, k := range builtinKeywords {
		if strings.Contains(upper, k) {
			return false
		}
	}
	for _, k := range externalKeywords {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}

// Devices is the preferred input and output device; nil means system default.
type Devices struct {
	Input  *portaudio.DeviceInfo
	Output *portaudio.DeviceInfo
}

// PreferredDevices looks for an external audio interface. It must be called
// after portaudio.Initialize. Failure is logged and yields the defaults.
func PreferredDevices() Devices {
	devices, err := portaudio.Devices()
	if err != nil {
		log.Warn().Err(err).Msg("could not enumerate audio devices, using defaults")
		return Devices{}
	}
	infos := make([]deviceInfo, len(devices))
	for i, d := range devices {
		infos[i] = deviceInfo{name: d.Name, inputs: d.MaxInputChannels, outputs: d.MaxOutputChannels}
	}

	var out Devices
	if i := pickExternal(infos, true); i >= 0 {
		out.Input = devices[i]
		log.Info().Str("device", devices[i].Name).Msg("found external input device")
	}
	if i := pickExternal(infos, false); i >= 0 {
		out.Output = devices[i]
		log.Info().Str("device", devices[i].Name).Msg("found external output device")
	}
	if out.Input == nil && out.Output == nil {
		log.Info().Msg("no external audio devices detected, using defaults")
	}
	return out
}

type deviceInfo struct {
	name    string
	inputs  int
	outputs int
}

func pickExternal(devices []deviceInfo, input bool) int {
	for i, d := range devices {
		if input && d.inputs < 1 || !input && d.outputs < 1 {
			continue
		}
		if IsExternalName(d.name) {
			return i
		}
	}
	return -1
}

// Card is one entry of /proc/asound/cards.
type Card struct {
	Number      int
	ID          string
	Driver      string
	Description string
}

var cardLine = regexp.MustCompile(`^\s*(\d+)\s+\[([^\]]*)\]:\s*(\S+)\s*-\s*(.*)$`)

// ParseCards parses the contents of /proc/asound/cards.
func ParseCards(text string) []Card {
	var cards []Card
	for _, line := range strings.Split(text, "\n") {
		m := cardLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		cards = append(cards, Card{
			Number:      n,
			ID:          strings.TrimSpace(m[2]),
			Driver:      m[3],
			Description: strings.TrimSpace(m[4]),
		})
	}
	return cards
}

// PickExternalCard returns the first external card, falling back to the
// first card that is not built-in.
func PickExternalCard(cards []Card) (Card, bool) {
	for _, c := range cards {
		if IsExternalName(c.ID + " " + c.Driver + " " + c.Description) {
			return c, true
		}
	}
	for _, c := range cards {
		desc := strings.ToUpper(c.ID + " " + c.Driver + " " + c.Description)
		builtin := false
		for _, k := range builtinKeywords {
			if strings.Contains(desc, k) {
				builtin = true
				break
			}
		}
		if !builtin {
			return c, true
		}
	}
	return Card{}, false
}

// Asoundrc renders an ALSA config making card the default pcm and ctl.
func Asoundrc(card int) string {
	return fmt.Sprintf(`pcm.!default {
    type hw
    card %d
}
ctl.!default {
    type hw
    card %d
}
`, card, card)
}

// ConfigureALSA reads the sound card list, picks an external card and
// writes it as the ALSA default to asoundrcPath.
func ConfigureALSA(cardsPath, asoundrcPath string) (Card, error) {
	raw, err := os.ReadFile(cardsPath)
	if err != nil {
		return Card{}, fmt.Errorf("read %s: %w", cardsPath, err)
	}
	card, ok := PickExternalCard(ParseCards(string(raw)))
	if !ok {
		return Card{}, fmt.Errorf("%w: no external sound card in %s", ErrDeviceUnavailable, cardsPath)
	}
	if err := os.WriteFile(asoundrcPath, []byte(Asoundrc(card.Number)), 0o644); err != nil {
		return Card{}, fmt.Errorf("write %s: %w", asoundrcPath, err)
	}
	log.Info().Int("card", card.Number).Str("id", card.ID).Str("path", asoundrcPath).Msg("configured ALSA default card")
	return card, nil
}
