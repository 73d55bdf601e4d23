package wallet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/brojonat/codonpay/service/solana"
)

// Approver decides whether a prepared transaction may be signed.
type Approver interface {
	Approve(ctx context.Context, prepared *solana.PreparedTransaction, summaries []solana.InstructionSummary) (bool, error)
}

// PromptApprover prints the transaction to out and reads a y/n answer from in.
// One goroutine reads in for the approver's lifetime; a prompt cancelled
// through ctx returns at once and the next prompt receives the next line.
type PromptApprover struct {
	in    *bufio.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
}

func NewPromptApprover(in io.Reader, out io.Writer) *PromptApprover {
	return &PromptApprover{in: bufio.NewReader(in), out: out, lines: make(chan string)}
}

// readLines feeds lines until in fails, then closes the channel.
func (a *PromptApprover) readLines() {
	defer close(a.lines)
	for {
		line, err := a.in.ReadString('\n')
		if line != "" || err == nil {
			a.lines <- line
		}
		if err != nil {
			return
		}
	}
}

func (a *PromptApprover) Approve(ctx context.Context, prepared *solana.PreparedTransaction, summaries []solana.InstructionSummary) (bool, error) {
	fmt.Fprintf(a.out, "\nApprove purchase transaction\n")
	fmt.Fprintf(a.out, "  Fee payer: %s\n", prepared.FeePayer())
	fmt.Fprintf(a.out, "  Network:   %s\n", prepared.Connection.Endpoint)
	fmt.Fprintf(a.out, "  Total:     %s (seller %s, burn %s, fee %s%%)\n",
		prepared.Split.SellerAmount().Add(prepared.Split.BurnAmount()).String(),
		prepared.Split.SellerAmount().String(),
		prepared.Split.BurnAmount().String(),
		prepared.Split.FeePercent.String(),
	)
	for i, s := range summaries {
		fmt.Fprintf(a.out, "  %d. %s", i+1, s.Kind)
		if s.Amount > 0 {
			fmt.Fprintf(a.out, " %d", s.Amount)
		}
		if s.Source != nil {
			fmt.Fprintf(a.out, " from %s", s.Source)
		}
		if s.Target != nil {
			fmt.Fprintf(a.out, " to %s", s.Target)
		}
		fmt.Fprintln(a.out)
	}
	fmt.Fprint(a.out, "Sign and send? [y/N]: ")

	a.once.Do(func() { go a.readLines() })
	select {
	case <-ctx.Done():
		fmt.Fprintln(a.out)
		return false, ctx.Err()
	case line := <-a.lines:
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}
