// Command ultratrace dumps the contents of a .nettrace intermediate
// file produced by ultra, for debugging the sampler or runtime
// channel without going through a full profiling run.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ultraprof/ultra/diagport"
)

func main() {
	var (
		flagKind = flag.String("kind", "", "record kind: \"sampler\" or \"clr\" (default: guessed from the file name)")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ultratrace [-kind sampler|clr] <file>.nettrace")
		os.Exit(1)
	}

	path := flag.Arg(0)
	kind := *flagKind
	if kind == "" {
		kind = guessKind(path)
	}

	var err error
	switch kind {
	case "clr":
		err = dumpRuntime(path)
	case "sampler":
		err = dumpNative(path)
	default:
		log.Fatalf("ultratrace: cannot determine record kind for %s; pass -kind sampler|clr", path)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func guessKind(path string) string {
	base := strings.TrimSuffix(path, ".nettrace")
	if strings.HasSuffix(base, "_clr") {
		return "clr"
	}
	if strings.HasSuffix(base, "_sampler") {
		return "sampler"
	}
	return ""
}

func dumpNative(path string) error {
	r, err := diagport.OpenNativeReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	count := 0
	for {
		ev, timeMs, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		fmt.Printf("%8.2fms %T %+v\n", timeMs, ev, ev)
		count++
	}
	fmt.Printf("%d records\n", count)
	return nil
}

func dumpRuntime(path string) error {
	r, err := diagport.OpenRuntimeReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	count := 0
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		fmt.Printf("%8.2fms kind=%-2v %+v\n", ev.TimeMs, ev.Kind, ev)
		count++
	}
	fmt.Printf("%d records\n", count)
	return nil
}
