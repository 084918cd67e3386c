// Command parallelrtc drives the emit -> lower -> execute pipeline over a
// handful of built-in demo programs, the way the teacher's cmd/xsum wires
// its library packages together behind a small flags.Parser CLI.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/coderuntime/parallelrt/digest"
)

type options struct {
	Demo    string `short:"d" long:"demo" default:"all" description:"Demo to run: fill, fib, empty, reduce, all"`
	Workers int    `short:"w" long:"workers" default:"0" description:"Thread pool worker count (0: runtime.NumCPU)"`
}

func main() {
	log.SetFlags(0)

	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassAfterNonOption)
	if _, err := parser.Parse(); err != nil {
		log.Fatalf("parallelrtc: invalid arguments: %s", err)
	}

	demos := allDemos
	if opts.Demo != "all" {
		d, ok := demoByName[opts.Demo]
		if !ok {
			log.Fatalf("parallelrtc: unknown demo %q", opts.Demo)
		}
		demos = []demo{d}
	}

	g, _ := errgroup.WithContext(context.Background())
	for _, d := range demos {
		d := d
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s: contract violation: %v", d.name, r)
				}
			}()
			out, err := d.run(opts.Workers)
			if err != nil {
				return fmt.Errorf("%s: %w", d.name, err)
			}
			log.Printf("%-8s [%s] %s", d.name, digest.Fingerprint(d.name, 0, d.span), out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("parallelrtc: %s", err)
	}
}

type demo struct {
	name string
	span int
	run  func(workers int) (string, error)
}

var allDemos = []demo{
	{name: "fill", span: 1000, run: runFillDemo},
	{name: "empty", span: 0, run: runEmptyRangeDemo},
	{name: "fib", span: 15, run: runFibDemo},
	{name: "reduce", span: 1000, run: runReduceDemo},
}

var demoByName = func() map[string]demo {
	m := make(map[string]demo, len(allDemos))
	for _, d := range allDemos {
		m[d.name] = d
	}
	return m
}()
