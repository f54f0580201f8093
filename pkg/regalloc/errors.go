package regalloc

import (
	"github.com/raymyers/ralph-irc/pkg/ir"
	"github.com/raymyers/ralph-irc/pkg/target"
	"tlog.app/go/errors"
)

// Errors returned by the allocator. Every one of them aborts the whole
// allocation of the function; no partial assignment is returned.
var (
	// ErrUndeclaredClass: a value or need without a register class.
	ErrUndeclaredClass = ir.ErrUndeclaredClass
	// ErrClassMismatch: a move between values of different classes.
	ErrClassMismatch = errors.New("move between register classes")
	// ErrColorMap: the colorability policy answered something other than 0 or 1.
	ErrColorMap = target.ErrColorMap
	// ErrNoConvergence: spill rewriting could not make the function colorable.
	ErrNoConvergence = errors.New("spill rewriting did not converge")
	// ErrInvariant: internal bookkeeping is inconsistent.
	ErrInvariant = errors.New("allocator invariant violated")
)

// fatal carries an error out of the allocator's inner loops.
type fatal struct{ err error }

func fatalf(sentinel error, format string, args ...any) {
	panic(fatal{errors.Wrap(sentinel, format, args...)})
}

func fatalErr(err error) {
	panic(fatal{err})
}

// recoverFatal turns a fatal panic back into an error.
func recoverFatal(err *error) {
	r := recover()
	if r == nil {
		return
	}
	f, ok := r.(fatal)
	if !ok {
		panic(r)
	}
	*err = f.err
}
