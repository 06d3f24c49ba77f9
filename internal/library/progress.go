package library

import (
	"log"
	"sync"
)

// ProgressReporter receives coarse progress of a long-running pass. Hosts
// with a UI plug in their own; the engines never depend on one being present.
type ProgressReporter interface {
	// Start begins a pass. total is 0 when the amount of work is unknown.
	Start(message string, total int)
	// Step advances the pass by one unit of work.
	Step(text string)
	// Finish ends the pass.
	Finish()
}

// NopProgress discards progress.
type NopProgress struct{}

func (NopProgress) Start(string, int) {}
func (NopProgress) Step(string)       {}
func (NopProgress) Finish()           {}

// LogProgress writes progress to the standard logger.
type LogProgress struct {
	mu      sync.Mutex
	message string
	current int
	total   int
}

// NewLogProgress creates a log-backed reporter.
func NewLogProgress() *LogProgress {
	return &LogProgress{}
}

func (p *LogProgress) Start(message string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.message = message
	p.current = 0
	p.total = total
	log.Printf("⏳ %s", message)
}

func (p *LogProgress) Step(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current++
	if p.total > 0 {
		log.Printf("   [%d/%d] %s", p.current, p.total, text)
		return
	}
	log.Printf("   %s", text)
}

func (p *LogProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	log.Printf("🏁 %s finished", p.message)
}
