package regalloc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/raymyers/ralph-irc/pkg/ir"
	"github.com/raymyers/ralph-irc/pkg/target"
)

func TestWriteDOT(t *testing.T) {
	m := target.MustLookup("toy")
	A := class(t, m, "A")
	fn := singleBlock("dot", map[ir.Temp]target.Class{1: A, 2: A, 3: A, 4: A},
		ir.NewOp("li", ir.T(1), ir.Imm(1)),
		ir.NewOp("li", ir.T(2), ir.Imm(2)),
		ir.NewOp("add", ir.T(3), ir.T(1), ir.T(2)),
		ir.NewMove(ir.T(4), ir.T(3)),
		ret(ir.T(4)),
	)
	g := buildGraph(t, fn, m)

	var buf bytes.Buffer
	if err := g.WriteDOT(&buf, "dot"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"graph dot {", "t1 -- t2", "dashed", "box"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "t3 -- t4;") {
		t.Errorf("copy drawn as an interference:\n%s", out)
	}
}
