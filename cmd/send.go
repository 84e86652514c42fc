// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/via-fydp/Basestation-SW/pkg/link"
	"github.com/via-fydp/Basestation-SW/pkg/rigstate"
)

var (
	sendListen int
	sendFake   bool
)

var sendCmd = &cobra.Command{
	Use:   "send <command>...",
	Short: "Send one or more commands to the controller",
	Long: `Send commands to the controller in the order given, one per line.

Each argument is one command. Commands must be non-empty and must not contain
line breaks. With --listen, replies are printed for the given number of
seconds after the commands are written.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendListen, "listen", 0, "Seconds to print replies after sending")
	sendCmd.Flags().BoolVar(&sendFake, "fake", false, "Use a simulated controller")
}

// queueCommands validates commands through a command queue and returns
// them in sending order
func queueCommands(args []string) ([]string, error) {
	queue := rigstate.NewCommandQueue()
	for _, arg := range args {
		if err := queue.Enqueue(arg); err != nil {
			return nil, fmt.Errorf("command %q: %w", arg, err)
		}
	}
	return queue.Drain(), nil
}

// listen prints decoded lines from port until ctx is done
func listen(ctx context.Context, port link.Port, out io.Writer) error {
	printer := newLinePrinter(out)
	lines := link.NewLineReader(port)

	for ctx.Err() == nil {
		line, err := lines.ReadLine()
		if err != nil {
			if err := recoverRead(port, lines, err); err != nil {
				return err
			}
			continue
		}
		printer.HandleLine(line)
	}
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	cmds, err := queueCommands(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dial, err := NewDialer(cfg.Link, sendFake)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	port, connInfo, err := dial(dialCtx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer port.Close()

	fmt.Printf("Connection: %s\n", connInfo)

	sent, err := link.WriteCommands(port, cmds)
	for _, c := range cmds[:sent] {
		fmt.Printf("sent: %s\n", c)
	}
	if err != nil {
		return fmt.Errorf("sent %d of %d commands: %w", sent, len(cmds), err)
	}

	if sendListen <= 0 {
		return nil
	}

	if err := port.SetReadTimeout(cfg.Link.ReadTimeout); err != nil {
		return err
	}

	listenCtx, stop := context.WithTimeout(context.Background(), time.Duration(sendListen)*time.Second)
	defer stop()

	fmt.Println()
	if err := listen(listenCtx, port, os.Stdout); err != nil && !errors.Is(err, link.ErrConnectionClosed) {
		return err
	}
	return nil
}
