package debugger

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// RunCLI runs the line-oriented debugger REPL against dbg's Machine
// until the user quits or the program exits.
func RunCLI(dbg *Debugger) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("(riscv-dbg) ")

		if !scanner.Scan() {
			break
		}

		cmdLine := strings.TrimSpace(scanner.Text())

		if cmdLine == "quit" || cmdLine == "q" || cmdLine == "exit" {
			fmt.Println("Exiting debugger...")
			break
		}

		if err := dbg.ExecuteCommand(cmdLine); err != nil {
			fmt.Printf("Error: %v\n", err)
		}

		if output := dbg.GetOutput(); output != "" {
			fmt.Print(output)
		}

		for dbg.Running {
			if shouldBreak, reason := dbg.ShouldBreak(); shouldBreak {
				dbg.Running = false
				fmt.Printf("Stopped: %s at pc=0x%016X\n", reason, dbg.M.PC())
				break
			}

			if err := dbg.M.Step(); err != nil {
				dbg.Running = false
				fmt.Printf("Runtime error: %v\n", err)
				break
			}

			if output := dbg.GetOutput(); output != "" {
				fmt.Print(output)
			}

			if !dbg.Running {
				break
			}

			if !dbg.M.Running() {
				dbg.Running = false
				fmt.Printf("Program exited with code %d\n", dbg.M.ExitCode())
				break
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("input error: %w", err)
	}

	return nil
}

// RunTUI runs the full-screen debugger interface.
func RunTUI(dbg *Debugger) error {
	tui := NewTUI(dbg)
	return tui.Run()
}
