package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	bankmodels "paybook/internal/banking/models"
	"paybook/internal/client"
	"paybook/internal/session"
	id "paybook/pkg/domain"
	dErrors "paybook/pkg/domain-errors"
	"paybook/pkg/format"
)

// paymentDisplayDelay keeps the confirmation on screen before the profile is
// re-read.
const paymentDisplayDelay = 2 * time.Second

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("bankctl "+name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func cmdSignUp(ctx context.Context, a *app, args []string) error {
	fs := newFlags("signup")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password, at least 6 characters")
	name := fs.String("name", "", "full name")
	phone := fs.String("phone", "", "phone number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.session.State().SignedIn() {
		return dErrors.New(dErrors.CodeConflict, "already signed in, run bankctl signout first")
	}
	in := session.SignUpInput{Email: *email, Password: *password, FullName: *name}
	if *phone != "" {
		in.Phone = phone
	}
	if err := a.session.SignUp(ctx, in); err != nil {
		return err
	}
	state := a.session.State()
	fmt.Fprintf(a.out, "Welcome, %s.\n", displayName(state))
	if state.Profile != nil {
		fmt.Fprintf(a.out, "Account %s opened with %s.\n", state.Profile.AccountNumber, format.FormatINR(state.Profile.Balance))
	}
	return nil
}

func cmdSignIn(ctx context.Context, a *app, args []string) error {
	fs := newFlags("signin")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.session.SignIn(ctx, *email, *password); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s.\n", displayName(a.session.State()))
	return nil
}

func cmdSignOut(ctx context.Context, a *app, _ []string) error {
	if _, err := a.requireSession(); err != nil {
		return err
	}
	if err := a.session.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out.")
	return nil
}

func cmdWhoAmI(_ context.Context, a *app, _ []string) error {
	if _, err := a.requireSession(); err != nil {
		return err
	}
	state := a.session.State()
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Email\t%s\n", state.User.Email)
	if p := state.Profile; p != nil {
		fmt.Fprintf(w, "Name\t%s\n", p.FullName)
		fmt.Fprintf(w, "Account\t%s\n", p.AccountNumber)
		if p.Phone != nil {
			fmt.Fprintf(w, "Phone\t%s\n", *p.Phone)
		}
		fmt.Fprintf(w, "Member since\t%s\n", format.FormatDate(p.CreatedAt))
	}
	return w.Flush()
}

func cmdBalance(ctx context.Context, a *app, args []string) error {
	fs := newFlags("balance")
	hide := fs.Bool("hide", false, "mask the balance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := a.requireSession()
	if err != nil {
		return err
	}
	if *hide {
		fmt.Fprintln(a.out, format.MaskedBalance)
		return nil
	}
	balance, err := a.api.Balance(ctx, token)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, format.FormatINR(balance))
	return nil
}

func cmdHistory(ctx context.Context, a *app, _ []string) error {
	token, err := a.requireSession()
	if err != nil {
		return err
	}
	txns, err := a.api.History(ctx, token)
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		fmt.Fprintln(a.out, "No transactions yet.")
		return nil
	}
	return printHistory(a.out, txns)
}

func printHistory(out io.Writer, txns []*bankmodels.Transaction) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tTO\tDESCRIPTION\tAMOUNT")
	for _, t := range txns {
		amount := format.FormatINR(t.Amount)
		if t.Type == bankmodels.DirectionDebit {
			amount = "-" + amount
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", format.FormatDateTime(t.CreatedAt.Local()), deref(t.RecipientName), deref(t.Description), amount)
	}
	return w.Flush()
}

func cmdContacts(ctx context.Context, a *app, args []string) error {
	fs := newFlags("contacts")
	recent := fs.Bool("recent", false, "only recently paid contacts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := a.requireSession()
	if err != nil {
		return err
	}
	list := a.api.Contacts
	if *recent {
		list = a.api.RecentContacts
	}
	contacts, err := list(ctx, token)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tACCOUNT\tLAST PAID")
	for _, c := range contacts {
		last := "-"
		if c.IsRecent {
			last = format.FormatDateTime(c.LastContacted.Local())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.AccountNumber, last)
	}
	return w.Flush()
}

func cmdPay(ctx context.Context, a *app, args []string) error {
	fs := newFlags("pay")
	to := fs.String("to", "", "contact name or account number")
	amount := fs.String("amount", "", "amount in rupees")
	desc := fs.String("desc", "", "description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := a.requireSession()
	if err != nil {
		return err
	}
	contacts, err := a.api.Contacts(ctx, token)
	if err != nil {
		return err
	}
	contact, value, err := preparePayment(contacts, *to, *amount)
	if err != nil {
		return err
	}

	result, err := a.api.Transfer(ctx, token, client.TransferInput{
		ContactID:      contact.ID.String(),
		Amount:         value.String(),
		Description:    *desc,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Paid %s to %s.\n", format.FormatINR(result.Transaction.Amount), contact.Name)

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(paymentDisplayDelay):
	}
	if err := a.session.RefreshProfile(ctx); err != nil {
		return err
	}
	if p := a.session.State().Profile; p != nil {
		fmt.Fprintf(a.out, "Balance: %s\n", format.FormatINR(p.Balance))
	}
	return nil
}

// preparePayment resolves the recipient before it looks at the amount, so a
// missing recipient is reported first.
func preparePayment(contacts []*bankmodels.Contact, to, amount string) (*bankmodels.Contact, decimal.Decimal, error) {
	contact, err := findContact(contacts, to)
	if err != nil {
		return nil, decimal.Decimal{}, err
	}
	value, err := id.ParseAmount(amount)
	if err != nil {
		return nil, decimal.Decimal{}, err
	}
	return contact, value, nil
}

// findContact matches an account number exactly or a name ignoring case.
func findContact(contacts []*bankmodels.Contact, query string) (*bankmodels.Contact, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "-to is required")
	}
	var byName []*bankmodels.Contact
	for _, c := range contacts {
		if strings.EqualFold(string(c.AccountNumber), query) {
			return c, nil
		}
		if strings.EqualFold(c.Name, query) {
			byName = append(byName, c)
		}
	}
	switch len(byName) {
	case 0:
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("no contact matches %q", query))
	case 1:
		return byName[0], nil
	default:
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%q matches several contacts, use the account number", query))
	}
}

func cmdWatch(ctx context.Context, a *app, _ []string) error {
	if _, err := a.requireSession(); err != nil {
		return err
	}
	states, unsubscribe := a.session.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- a.session.Run(ctx) }()

	fmt.Fprintf(a.out, "Watching the session of %s. Press Ctrl-C to stop.\n", displayName(a.session.State()))
	for {
		select {
		case err := <-done:
			if !a.session.State().SignedIn() {
				fmt.Fprintln(a.out, "Session ended.")
			}
			return err
		case state := <-states:
			printState(a.out, state)
		}
	}
}

func printState(out io.Writer, state session.State) {
	stamp := format.FormatDateTime(time.Now())
	if !state.SignedIn() {
		fmt.Fprintf(out, "[%s] signed out\n", stamp)
		return
	}
	balance := "unavailable"
	if state.Profile != nil {
		balance = format.FormatINR(state.Profile.Balance)
	}
	fmt.Fprintf(out, "[%s] session active for %s, balance %s\n", stamp, displayName(state), balance)
}

func displayName(state session.State) string {
	if state.Profile != nil && state.Profile.FullName != "" {
		return state.Profile.FullName
	}
	if state.User != nil {
		return state.User.Email
	}
	return "unknown"
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
