// Package teleop provides the local teleoperation loop: leader arms
// are read at a fixed rate and their joint positions mirrored onto
// the followers they are currently mapped to.
package teleop

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a Controller.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Arm is the channel surface the loop drives. *robot.Channel
// implements it.
type Arm interface {
	Label() string
	Resolution() int
	Positions(ctx context.Context) (map[int]int, error)
	SetPositions(ctx context.Context, positions map[int]int) error
	EnableTorque(ctx context.Context) error
	DisableTorque(ctx context.Context) error
	Close() error
}

// State is one cycle's snapshot for the UI.
type State struct {
	Positions   map[string]map[int]int // leader label -> motor id -> raw ticks
	Pairs       []Pair
	ReadErrors  int
	WriteErrors int
	Timestamp   time.Time
	Error       error
}

// Percent expresses a raw position as a percentage of full travel.
func Percent(raw, resolution int) float64 {
	return 100 * float64(raw) / float64(resolution-1)
}

// Controller runs the read→map→write cycle over one or more
// leader/follower pairs.
type Controller struct {
	leaders   []Arm
	followers map[string]Arm
	table     *MappingTable
	fps       int
	duration  time.Duration

	mu     sync.RWMutex
	status Status

	// Touched only by the loop goroutine.
	readErrs  int
	writeErrs int

	stateCh chan State
	logCh   chan string
	remapCh chan [2]string
}

// Config holds configuration for the controller.
type Config struct {
	Leaders   []Arm
	Followers []Arm
	FPS       int           // defaults to 60
	Duration  time.Duration // 0 runs until cancelled
}

// NewController pairs leaders with followers by index and prepares the
// loop. The controller takes ownership of the arms; Close releases
// them.
func NewController(cfg Config) (*Controller, error) {
	leaderLabels := make([]string, len(cfg.Leaders))
	for i, l := range cfg.Leaders {
		leaderLabels[i] = l.Label()
	}
	followerLabels := make([]string, len(cfg.Followers))
	followers := make(map[string]Arm, len(cfg.Followers))
	for i, f := range cfg.Followers {
		followerLabels[i] = f.Label()
		followers[f.Label()] = f
	}

	table, err := NewMappingTable(leaderLabels, followerLabels)
	if err != nil {
		return nil, err
	}

	if cfg.FPS <= 0 {
		cfg.FPS = 60
	}

	return &Controller{
		leaders:   cfg.Leaders,
		followers: followers,
		table:     table,
		fps:       cfg.FPS,
		duration:  cfg.Duration,
		status:    StatusIdle,
		stateCh:   make(chan State, 1),
		logCh:     make(chan string, 10),
		remapCh:   make(chan [2]string, 1),
	}, nil
}

// Close closes every arm and releases resources.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.status = StatusStopped
	c.mu.Unlock()

	var errs []error
	for _, l := range c.leaders {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range c.followers {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// FPS returns the control frequency.
func (c *Controller) FPS() int {
	return c.fps
}

// Status returns the controller lifecycle state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// RequestRemap queues a swap of two leaders' followers. The queue is
// one deep and the loop drains it at the top of the next cycle, so a
// keypress never preempts an in-flight write. Returns false when a
// remap is already pending.
func (c *Controller) RequestRemap(leaderA, leaderB string) bool {
	select {
	case c.remapCh <- [2]string{leaderA, leaderB}:
		return true
	default:
		return false
	}
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start begins the control loop and blocks until the context is done
// or the configured duration elapses. Motors keep their last commanded
// position on the way out; torque is not released.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusIdle {
		c.mu.Unlock()
		return fmt.Errorf("controller is %s", c.status)
	}
	c.status = StatusRunning
	c.mu.Unlock()

	if c.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.duration)
		defer cancel()
	}

	// Leaders are posed by hand; followers must hold what we write.
	for _, l := range c.leaders {
		if err := l.DisableTorque(ctx); err != nil {
			c.log("Warning: failed to release %s: %v", l.Label(), err)
		} else {
			c.log("%s: torque disabled (passive mode)", l.Label())
		}
	}
	for _, f := range c.followers {
		if err := f.EnableTorque(ctx); err != nil {
			c.log("Warning: failed to enable %s: %v", f.Label(), err)
		} else {
			c.log("%s: torque enabled", f.Label())
		}
	}

	for _, p := range c.table.Pairs() {
		c.log("Mapping %s → %s", p.Leader, p.Follower)
	}
	c.log("Teleoperation started at %d fps", c.fps)

	ticker := time.NewTicker(time.Second / time.Duration(c.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			c.step(ctx)
		}
	}
}

type readResult struct {
	label     string
	positions map[int]int
	err       error
}

type writeJob struct {
	label string
	arm   Arm
	goals map[int]int
}

func (c *Controller) step(ctx context.Context) {
	// At most one remap per cycle, applied before any read so the
	// whole cycle sees one table.
	select {
	case req := <-c.remapCh:
		if err := c.table.Swap(req[0], req[1]); err != nil {
			c.log("Remap failed: %v", err)
		} else {
			fa, _ := c.table.FollowerFor(req[0])
			fb, _ := c.table.FollowerFor(req[1])
			c.log("Remapped: %s → %s, %s → %s", req[0], fa, req[1], fb)
		}
	default:
	}

	// One reader goroutine per leader; each bus stays sequential.
	results := make([]readResult, len(c.leaders))
	var wg sync.WaitGroup
	for i, leader := range c.leaders {
		wg.Add(1)
		go func(i int, leader Arm) {
			defer wg.Done()
			positions, err := leader.Positions(ctx)
			results[i] = readResult{label: leader.Label(), positions: positions, err: err}
		}(i, leader)
	}
	wg.Wait()

	state := State{
		Positions: make(map[string]map[int]int, len(results)),
		Pairs:     c.table.Pairs(),
		Timestamp: time.Now(),
	}

	jobs := make([]writeJob, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			c.readErrs++
			c.log("Read error on %s: %v", r.label, r.err)
			state.Error = r.err
			continue
		}
		state.Positions[r.label] = r.positions

		followerLabel, ok := c.table.FollowerFor(r.label)
		if !ok {
			continue
		}
		follower := c.followers[followerLabel]

		goals := make(map[int]int, len(r.positions))
		limit := follower.Resolution() - 1
		for id, pos := range r.positions {
			if pos < 0 {
				pos = 0
			} else if pos > limit {
				pos = limit
			}
			goals[id] = pos
		}
		jobs = append(jobs, writeJob{label: followerLabel, arm: follower, goals: goals})
	}

	// One writer goroutine per follower; the mapping guarantees each
	// follower at most one write per cycle.
	writeErrs := make([]error, len(jobs))
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job writeJob) {
			defer wg.Done()
			writeErrs[i] = job.arm.SetPositions(ctx, job.goals)
		}(i, job)
	}
	wg.Wait()
	for i, err := range writeErrs {
		if err != nil {
			c.writeErrs++
			c.log("Write error on %s: %v", jobs[i].label, err)
		}
	}

	state.ReadErrors = c.readErrs
	state.WriteErrors = c.writeErrs
	c.sendState(state)
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

// shutdown marks the controller stopped. Follower torque is left
// enabled so the arms hold their last commanded position.
func (c *Controller) shutdown() {
	c.mu.Lock()
	c.status = StatusStopped
	c.mu.Unlock()

	c.log("Teleoperation stopped, positions held")
}
