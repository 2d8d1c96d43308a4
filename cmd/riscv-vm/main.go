// Command riscv-vm loads a RISC-V RV64 ELF binary and either runs it
// directly to completion, or drives it interactively through a CLI or
// TUI debugger.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lookbusy1344/riscv-vm/config"
	"github.com/lookbusy1344/riscv-vm/debugger"
	"github.com/lookbusy1344/riscv-vm/machine"
	"github.com/lookbusy1344/riscv-vm/memory"
	"github.com/lookbusy1344/riscv-vm/syscall"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		debugMode   = flag.Bool("debug", false, "Start in debugger mode (CLI)")
		tuiMode     = flag.Bool("tui", false, "Use TUI (Text User Interface) debugger")
		configPath  = flag.String("config", "", "Config file path (default: platform config dir)")
		maxCycles   = flag.Uint64("max-cycles", 0, "Maximum CPU cycles before halt (0: use config default)")
		memorySize  = flag.Uint64("memory-size", 0, "Guest memory size in bytes (0: use config default)")
		isaFlag     = flag.String("isa", "", "ISA extensions, comma-separated: imc,b,mop (empty: use config default)")
		version     = flag.Uint("version-num", 0, "ISA version gate (0,1,2); 0 means use config default")
		chaosMode   = flag.Bool("chaos", false, "Fill freshly-touched memory frames with pseudo-random bytes")
		chaosSeed   = flag.Uint64("chaos-seed", 0, "Seed for -chaos")
		verboseMode = flag.Bool("verbose", false, "Verbose output")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("riscv-vm %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	if *showHelp || flag.NArg() == 0 {
		printHelp()
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *maxCycles != 0 {
		cfg.Execution.MaxCycles = *maxCycles
	}
	if *memorySize != 0 {
		cfg.Execution.MemorySize = *memorySize
	}
	if *isaFlag != "" {
		cfg.Execution.ISA = *isaFlag
	}
	if *version != 0 {
		cfg.Execution.Version = uint32(*version)
	}
	if *chaosMode {
		cfg.Execution.ChaosMode = true
	}
	if *chaosSeed != 0 {
		cfg.Execution.ChaosSeed = uint32(*chaosSeed)
	}

	elfPath := flag.Arg(0)
	program, err := os.ReadFile(elfPath) // #nosec G304 -- user-specified program path
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", elfPath, err)
		os.Exit(1)
	}

	mem, err := memory.New(cfg.Execution.MemorySize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating memory: %v\n", err)
		os.Exit(1)
	}
	if cfg.Execution.ChaosMode {
		mem.ChaosMode = true
		mem.ChaosSeed = cfg.Execution.ChaosSeed
	}

	m := machine.New(mem, cfg.ISABits(), cfg.Execution.Version, cfg.Execution.MaxCycles, nil)
	m.AddSyscall(syscall.NewConsole())

	var guestArgs [][]byte
	for _, a := range flag.Args()[1:] {
		guestArgs = append(guestArgs, []byte(a))
	}

	if *verboseMode {
		fmt.Printf("Loading %s (isa=%s version=%d memory=%d max-cycles=%d)\n",
			elfPath, cfg.Execution.ISA, cfg.Execution.Version, cfg.Execution.MemorySize, cfg.Execution.MaxCycles)
	}

	if _, err := m.LoadProgram(program, guestArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		os.Exit(1)
	}

	if *debugMode || *tuiMode {
		dbg := debugger.NewDebugger(m)

		if *tuiMode {
			if err := debugger.RunTUI(dbg); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
				os.Exit(1)
			}
		} else {
			fmt.Println("riscv-vm debugger - type 'help' for commands")
			fmt.Printf("Program loaded: %s\n", elfPath)
			fmt.Println()
			if err := debugger.RunCLI(dbg); err != nil {
				fmt.Fprintf(os.Stderr, "Debugger error: %v\n", err)
				os.Exit(1)
			}
		}
		os.Exit(int(m.ExitCode()))
	}

	if *verboseMode {
		fmt.Println("Starting execution...")
	}

	exitCode, err := m.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error at pc=0x%016X: %v\n", m.PC(), err)
		os.Exit(1)
	}

	if *verboseMode {
		fmt.Printf("Execution complete: exit code %d, %d cycles\n", exitCode, m.Cycles())
	}

	os.Exit(int(exitCode))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func printHelp() {
	fmt.Printf(`riscv-vm %s

Usage: riscv-vm [options] <elf-file> [guest-args...]

Options:
  -help              Show this help message
  -version           Show version information
  -debug             Start in debugger mode (CLI)
  -tui               Start in TUI debugger mode
  -config PATH       Config file path (default: platform config dir)
  -max-cycles N      Maximum CPU cycles before halt
  -memory-size N     Guest memory size in bytes
  -isa LIST          ISA extensions, comma-separated: imc,b,mop
  -version-num N     ISA version gate (0, 1, or 2)
  -chaos             Fill freshly-touched memory with pseudo-random bytes
  -chaos-seed N      Seed for -chaos
  -verbose           Verbose output

Examples:
  riscv-vm program.elf
  riscv-vm -debug program.elf arg1 arg2
  riscv-vm -tui -isa imc,b,mop program.elf
`, Version)
}
