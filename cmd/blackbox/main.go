package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/rigctl/internal/blackbox"
)

func main() {
	faultsOnly := flag.Bool("faults", false, "print only faulted cycles and fault records")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: blackbox [-faults] <file.rbb>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "blackbox: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	if err := dump(os.Stdout, blackbox.NewReader(f), *faultsOnly); err != nil {
		fmt.Fprintf(os.Stderr, "blackbox: %v\n", err)
		os.Exit(1)
	}
}

func dump(w io.Writer, r *blackbox.Reader, faultsOnly bool) error {
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if faultsOnly && !rec.Faulted {
			continue
		}
		if line := format(rec); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}

func format(rec blackbox.Record) string {
	switch {
	case rec.Start != nil:
		s := rec.Start
		return fmt.Sprintf("#%d start session=%s rig=%s joints=%d at=%s",
			rec.ID, s.SessionID, s.RigName, s.JointCount, s.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	case rec.Cycle != nil:
		c := rec.Cycle
		return fmt.Sprintf("#%d cycle=%d t=%v phase=%s error=%t q=%s dq=%s tau=%s",
			rec.ID, c.Cycle, c.Elapsed, c.Phase, c.HasError, floats(c.Positions), floats(c.Velocities), floats(c.Torques))
	case rec.Fault != nil:
		flt := rec.Fault
		return fmt.Sprintf("#%d FAULT cycle=%d kinds=%s reason=%q",
			rec.ID, flt.Cycle, strings.Join(flt.Kinds, ","), flt.Reason)
	case rec.End != nil:
		return fmt.Sprintf("#%d end cycles=%d faulted=%d", rec.ID, rec.End.Cycles, rec.End.FaultedCycles)
	}
	return ""
}

func floats(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.4f", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
