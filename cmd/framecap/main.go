// Command framecap summarises a framelink capture file, printing one
// HeaderInfo line per frame. Payload bytes are only shown with -hex.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/banshee-data/framelink/internal/capture"
	"github.com/banshee-data/framelink/internal/journal"
	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/transport"
)

// Summary is printed at the end of a run (as JSON with -json).
type Summary struct {
	File         string         `json:"file"`
	Frames       int            `json:"frames"`
	Invalid      int            `json:"invalid"`
	Skipped      int            `json:"skipped"`
	PayloadBytes int            `json:"payload_bytes"`
	ByID         map[uint16]int `json:"by_id"`
	First        time.Time      `json:"first,omitzero"`
	Last         time.Time      `json:"last,omitzero"`
}

type options struct {
	file     string
	id       int
	quiet    bool
	showHex  bool
	asJSON   bool
	importTo string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("framecap", flag.ContinueOnError)
	fs.IntVar(&o.id, "id", -1, "Only show frames with this id")
	fs.BoolVar(&o.quiet, "q", false, "Only print the summary")
	fs.BoolVar(&o.showHex, "hex", false, "Print payload bytes as hex")
	fs.BoolVar(&o.asJSON, "json", false, "Print the summary as JSON")
	fs.StringVar(&o.importTo, "journal", "", "Also import frames into the journal at this path")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() != 1 {
		return o, fmt.Errorf("usage: framecap [flags] <capture.pcap>")
	}
	if o.id > 0xffff {
		return o, fmt.Errorf("id %d out of range", o.id)
	}
	o.file = fs.Arg(0)
	return o, nil
}

func main() {
	log.SetFlags(0)
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	r, err := capture.OpenFile(opts.file)
	if err != nil {
		return err
	}
	defer r.Close()

	var j *journal.Journal
	if opts.importTo != "" {
		if j, err = journal.Open(opts.importTo); err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()
	}

	sum := Summary{File: opts.file, ByID: map[uint16]int{}}
	skipped, err := capture.Replay(ctx, r, func(ts time.Time, p packet.Packet) error {
		if opts.id >= 0 && p.ID != uint16(opts.id) {
			return nil
		}
		sum.Frames++
		sum.ByID[p.ID]++
		if !p.IsValid() {
			sum.Invalid++
		}
		sum.PayloadBytes += int(p.Size)
		if sum.First.IsZero() {
			sum.First = ts
		}
		sum.Last = ts

		if !opts.quiet {
			line := ts.UTC().Format(time.RFC3339Nano) + " " + p.HeaderInfo()
			if opts.showHex && p.IsValid() {
				line += " " + hex.EncodeToString(p.Payload())
			}
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		}
		if j != nil {
			return j.Record(ctx, journal.Entry{
				Direction: transport.Rx,
				Transport: "capture",
				At:        ts,
				Packet:    p,
			})
		}
		return nil
	})
	sum.Skipped = skipped
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	_, err = fmt.Fprintf(out, "%s: %d frames (%d invalid, %d skipped), %d payload bytes, %d ids\n",
		sum.File, sum.Frames, sum.Invalid, sum.Skipped, sum.PayloadBytes, len(sum.ByID))
	return err
}
