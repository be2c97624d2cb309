package main

import (
	"log"
	"os"
	"strings"

	"github.com/veloterm/veloterm/internal/trainer"
)

// bellCuePlayer plays cues as terminal bells: one for a warning, three for
// the siren. BEL is non-printing so it cannot corrupt the TUI.
type bellCuePlayer struct {
	logger *log.Logger
	out    *os.File
}

func newBellCuePlayer(logger *log.Logger) *bellCuePlayer {
	return &bellCuePlayer{logger: logger, out: os.Stdout}
}

func (p *bellCuePlayer) Play(cue trainer.Cue) {
	beeps := 1
	if cue == trainer.CueSiren {
		beeps = 3
	}
	_, _ = p.out.WriteString(strings.Repeat("\a", beeps))
	p.logger.Printf("cue: %v", cue)
}
