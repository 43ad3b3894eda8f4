package analyses

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bryanwahyu/sans-pilot/internal/application"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

const maxAllocateAttempts = 1000

// RunContext is the isolated output location of one invocation.
type RunContext struct {
	Analysis  string    `json:"analysis"`
	Token     string    `json:"run_token"`
	OutputDir string    `json:"output_dir"`
	StartedAt time.Time `json:"started_at"`
}

// Allocator hands out run directories <root>/<sanitized name>/<token>.
// Tokens are wall-clock milliseconds bumped past the last issued token, so two
// allocations in the same millisecond still differ.
type Allocator struct {
	root  string
	clock application.Clock
	last  atomic.Int64
}

func NewAllocator(root string, clock application.Clock) *Allocator {
	if clock == nil {
		clock = application.SystemClock{}
	}
	return &Allocator{root: root, clock: clock}
}

// Allocate creates a fresh, empty output directory for analysisName.
func (a *Allocator) Allocate(analysisName string) (RunContext, error) {
	now := a.clock.Now()
	parent := filepath.Join(a.root, SanitizeName(analysisName))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return RunContext{}, fmt.Errorf("create runs dir %s: %v: %w", parent, err, sentinel.ErrIO)
	}

	for range maxAllocateAttempts {
		token := a.next(now.UnixMilli())
		dir := filepath.Join(parent, strconv.FormatInt(token, 10))
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return RunContext{
				Analysis:  analysisName,
				Token:     strconv.FormatInt(token, 10),
				OutputDir: dir,
				StartedAt: now,
			}, nil
		}
		// another process took this token; move past it
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return RunContext{}, fmt.Errorf("create run dir %s: %v: %w", dir, err, sentinel.ErrIO)
	}
	return RunContext{}, fmt.Errorf("no free run directory under %s: %w", parent, sentinel.ErrIO)
}

func (a *Allocator) next(ms int64) int64 {
	for {
		last := a.last.Load()
		token := ms
		if token <= last {
			token = last + 1
		}
		if a.last.CompareAndSwap(last, token) {
			return token
		}
	}
}

// SanitizeName makes an analysis name safe to use as one path segment.
func SanitizeName(name string) string {
	s := strings.NewReplacer("/", "_", `\`, "_").Replace(name)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
