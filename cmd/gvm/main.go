// Command gvm runs a single program through the register machine: it parses a
// source file of asmtext instructions into a module, wires in the built-in native
// functions, and drives it to completion with driver.CallMain.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"gvm/asmtext"
	"gvm/backtrace"
	"gvm/bytecode"
	"gvm/core"
	"gvm/driver"
	"gvm/heap"
	"gvm/module"
	"gvm/nativefn"
)

var entryFlag = flag.String("entry", "main", "function path to invoke once the program is loaded, e.g. main")

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gvm [-entry path] <file>")
		os.Exit(2)
	}

	src, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	instructions, err := asmtext.Parse(string(src))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	mod := buildModule(instructions)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "internal error:", r)
			os.Exit(1)
		}
	}()

	c := core.New()
	bt := backtrace.New()
	h := heap.New()
	if err := mod.AddStringsToMemory(h, nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	entryPath := module.ParsePath(*entryFlag)
	if runErr := driver.CallMain(c, mod, h, bt, entryPath); runErr != nil {
		slog.Error("program terminated with a fault", "entry", *entryFlag, "err", runErr, "backtrace", bt.Display())
		os.Exit(1)
	}
}

// buildModule registers the parsed program under function "main" and attaches the
// built-in host functions under the "host" submodule.
func buildModule(instructions []bytecode.Instruction) *module.Module {
	root := module.New("root")
	if err := root.AddFunction("main", instructions); err != nil {
		panic(err)
	}

	host := module.New("host")
	host.AddNativeFunction("write_stdout", nativefn.WriteStdout)
	host.AddNativeFunction("read_stdin", nativefn.ReadStdin)
	host.AddNativeFunction("clock", nativefn.Clock)
	host.AddNativeFunction("panic", nativefn.Panic)
	if err := root.AddSubmodule(host); err != nil {
		panic(err)
	}

	return root
}
