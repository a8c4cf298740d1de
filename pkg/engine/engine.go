// Package engine runs contour scripts. It wraps zygomys in a sandboxed
// environment and builds a scene of reference volumes, structure sets and
// contours from user source code.
package engine

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chazu/rtcontour/pkg/colortable"
	"github.com/chazu/rtcontour/pkg/contour"
	"github.com/chazu/rtcontour/pkg/kernel"
	"github.com/chazu/rtcontour/pkg/kernel/sdfx"
	"github.com/chazu/rtcontour/pkg/metrics"
	"github.com/chazu/rtcontour/pkg/raster"
	"github.com/chazu/rtcontour/pkg/scene"
	zygo "github.com/glycerine/zygomys/zygo"
)

// EvalError represents a non-fatal error encountered during evaluation,
// such as a parse error or a runtime error in user code.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// EvalWarning records a contour operation that failed without stopping
// the script.
type EvalWarning struct {
	Contour string
	Op      string
	Code    contour.Code
	Message string
}

func (w EvalWarning) String() string {
	return fmt.Sprintf("%s %s: %s", w.Op, w.Contour, w.Message)
}

// Defaults are the factors given to contours that do not set their own.
type Defaults struct {
	Oversampling float64
	Decimation   float64
}

// Session is the state built by one evaluation.
type Session struct {
	Scene      *scene.Scene
	Controller *contour.Controller
	Contours   []*contour.Entity
	Warnings   []EvalWarning

	kernel   kernel.Kernel
	defaults Defaults
}

// Contour returns the first contour named name.
func (s *Session) Contour(name string) (*contour.Entity, bool) {
	for _, e := range s.Contours {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

func (s *Session) warn(e *contour.Entity, op string, err error) {
	s.Warnings = append(s.Warnings, EvalWarning{
		Contour: e.Name,
		Op:      op,
		Code:    contour.CodeOf(err),
		Message: err.Error(),
	})
}

// structureColor looks structure up in the color table of the structure
// set setID.
func (s *Session) structureColor(setID, structure string) (colortable.RGBA, bool) {
	set, ok := s.Scene.Hierarchy(setID)
	if !ok {
		return colortable.RGBA{}, false
	}
	for _, n := range s.Scene.NodesByName(scene.ColorTableName(set.Attributes[scene.AttrSeriesName])) {
		ct, ok := n.(*scene.ColorTableNode)
		if !ok {
			continue
		}
		for _, entry := range ct.Table.Entries {
			if entry.Name == structure {
				return entry.Color, true
			}
		}
	}
	return colortable.RGBA{}, false
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds a single evaluation.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithLogger sets the logger handed to the contour components.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the conversion metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithMeshCells sets the marching-cubes resolution used to tessellate
// script solids.
func WithMeshCells(n int) Option {
	return func(e *Engine) { e.meshCells = n }
}

// WithDefaults sets the factors of contours that do not name their own.
func WithDefaults(d Defaults) Option {
	return func(e *Engine) { e.defaults = d }
}

// Engine wraps the zygomys interpreter for contour scripts.
// It is safe for concurrent use; each call to Evaluate creates a fresh
// sandboxed environment and scene for determinism.
type Engine struct {
	mu         sync.Mutex
	generation uint64

	timeout   time.Duration
	logger    *slog.Logger
	metrics   metrics.Recorder
	meshCells int
	defaults  Defaults
}

// NewEngine creates a new Engine instance.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		timeout:   EvalTimeout,
		logger:    slog.Default(),
		metrics:   metrics.Nop{},
		meshCells: sdfx.DefaultMeshCells,
		defaults: Defaults{
			Oversampling: contour.DefaultOversamplingFactor,
			Decimation:   contour.DefaultDecimationFactor,
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) newSession() *Session {
	sc := scene.New()
	conv := contour.NewConverter(sc, raster.New(), sdfx.NewExtractor())
	conv.Colors = colortable.NewResolver(e.logger)
	conv.Logger = e.logger
	conv.Metrics = e.metrics
	return &Session{
		Scene:      sc,
		Controller: contour.NewController(sc, conv, e.logger),
		kernel:     sdfx.NewWithCells(e.meshCells),
		defaults:   e.defaults,
	}
}

// Evaluate runs source in a fresh scene.
//
// Return semantics:
//   - On success: returns session + nil errors + nil error
//   - On parse/eval failure: returns nil session + eval errors + nil error
//   - On fatal failure (timeout, panic): returns nil + nil + error
func (e *Engine) Evaluate(source string) (*Session, []EvalError, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	ch := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()

		s, evalErrs, err := e.evaluate(source)
		ch <- evalResult{session: s, errors: evalErrs, err: err}
	}()

	return waitWithTimeout(ch, gen, e.timeout, &e.mu, &e.generation)
}

// evaluate performs the actual zygomys evaluation in a fresh sandbox.
func (e *Engine) evaluate(source string) (*Session, []EvalError, error) {
	s := e.newSession()
	if strings.TrimSpace(source) == "" {
		return s, nil, nil
	}

	// Sandbox mode prevents user code from accessing the filesystem or syscalls.
	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerBuiltins(env, s)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err), nil
	}
	if _, err := env.Run(); err != nil {
		return nil, parseZygomysError(err), nil
	}
	return s, nil, nil
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into one or more EvalError values.
// It attempts to extract line number information from the error message.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()

	for _, p := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := p.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
