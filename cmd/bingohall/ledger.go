package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/lox/bingohall/internal/ledger"
	"github.com/lox/bingohall/internal/ledger/pgledger"
	"github.com/lox/bingohall/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	accountStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	creditStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	debitStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

// LedgerCmd groups the balance tools.
type LedgerCmd struct {
	Balance BalanceCmd `cmd:"" help:"Show a participant's balances"`
	History HistoryCmd `cmd:"" help:"List a participant's transactions"`
	Deposit DepositCmd `cmd:"" help:"Credit a participant's play or bonus balance"`
}

type BalanceCmd struct {
	Participant string `arg:"" help:"Participant id"`
}

func (c *BalanceCmd) Run(g *Globals) error {
	return withLedger(g, func(ctx context.Context, l ledger.Ledger) error {
		return printBalance(ctx, os.Stdout, l, c.Participant)
	})
}

type HistoryCmd struct {
	Participant string `arg:"" help:"Participant id"`
	Verify      bool   `help:"Check that every entry chains to the current balance"`
}

func (c *HistoryCmd) Run(g *Globals) error {
	return withLedger(g, func(ctx context.Context, l ledger.Ledger) error {
		return printHistory(ctx, os.Stdout, l, c.Participant, c.Verify)
	})
}

type DepositCmd struct {
	Participant string `arg:"" help:"Participant id"`
	Amount      int64  `short:"n" required:"" help:"Amount to credit"`
	Bonus       bool   `help:"Credit the bonus balance instead of play"`
	Note        string `help:"Free-form note stored with the transaction"`
}

func (c *DepositCmd) Run(g *Globals) error {
	return withLedger(g, func(ctx context.Context, l ledger.Ledger) error {
		return deposit(ctx, os.Stdout, l, c.Participant, c.Amount, c.Bonus, c.Note)
	})
}

func withLedger(g *Globals, fn func(context.Context, ledger.Ledger) error) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	db, err := store.Open(ctx, cfg.Database.DSN, 2)
	if err != nil {
		return err
	}
	defer db.Close()

	l, err := pgledger.New(db.Pool)
	if err != nil {
		return err
	}
	return fn(ctx, l)
}

func printBalance(ctx context.Context, out io.Writer, l ledger.Ledger, participant string) error {
	b, err := l.GetBalance(ctx, participant)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s\t%s\t\n", headerStyle.Render("account"), headerStyle.Render("balance"))
	for _, acct := range []ledger.Account{ledger.AccountPlay, ledger.AccountMain, ledger.AccountBonus} {
		fmt.Fprintf(w, "%s\t%d\t\n", accountStyle.Render(string(acct)), b.Of(acct))
	}
	fmt.Fprintf(w, "%s\t%d\t\n", headerStyle.Render("total"), b.Total())
	return w.Flush()
}

func printHistory(ctx context.Context, out io.Writer, l ledger.Ledger, participant string, verify bool) error {
	history, err := l.History(ctx, participant)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("time"),
		headerStyle.Render("kind"),
		headerStyle.Render("account"),
		headerStyle.Render("amount"),
		headerStyle.Render("after"),
		headerStyle.Render("round"))
	for _, tx := range history {
		style := creditStyle
		if tx.Kind.IsDebit() {
			style = debitStyle
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			tx.CreatedAt.Format("2006-01-02 15:04:05"),
			tx.Kind,
			accountStyle.Render(string(tx.Account)),
			style.Render(fmt.Sprintf("%+d", tx.Signed())),
			tx.BalanceAfter,
			tx.RoundID)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !verify {
		return nil
	}
	b, err := l.GetBalance(ctx, participant)
	if err != nil {
		return err
	}
	if err := ledger.VerifyHistory(history, b); err != nil {
		return fmt.Errorf("history does not reconcile: %w", err)
	}
	_, err = fmt.Fprintf(out, "%d entries reconcile with current balances\n", len(history))
	return err
}

func deposit(ctx context.Context, out io.Writer, l ledger.Ledger, participant string, amount int64, bonus bool, note string) error {
	kind := ledger.KindDeposit
	if bonus {
		kind = ledger.KindBonusGrant
	}
	after, err := l.Credit(ctx, participant, amount, ledger.Reason{Kind: kind, Note: note})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s %s %s, %s balance now %d\n",
		creditStyle.Render(fmt.Sprintf("+%d", amount)),
		kind,
		participant,
		accountStyle.Render(string(kind.Account())),
		after)
	return err
}
