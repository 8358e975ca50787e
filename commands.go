package main

import (
	"fmt"
	"strconv"

	"library-circulation/library"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func parseID(name, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, &library.Error{Kind: library.KindInvalidInput, Message: fmt.Sprintf("%s must be a positive integer, got %q", name, s)}
	}
	return id, nil
}

func (a *app) registerCommand() *cobra.Command {
	var reg library.Registration
	var faculty bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a student or faculty member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			register := a.manager.RegisterStudent
			if faculty {
				register = a.manager.RegisterFaculty
			}
			id, err := register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			m, err := a.manager.GetMember(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(m)
		},
	}
	cmd.Flags().StringVar(&reg.Name, "name", "", "full name")
	cmd.Flags().StringVar(&reg.Email, "email", "", "email address")
	cmd.Flags().StringVar(&reg.Phone, "phone", "", "phone number")
	cmd.Flags().BoolVar(&faculty, "faculty", false, "register as faculty instead of student")
	return cmd
}

func (a *app) borrowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "borrow MEMBER_ID BOOK_ID BRANCH_ID",
		Short: "Lend a copy at a branch",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs([]string{"member id", "book id", "branch id"}, args)
			if err != nil {
				return err
			}
			r, err := a.manager.BorrowBook(cmd.Context(), ids[0], ids[1], ids[2])
			if err != nil {
				return err
			}
			return a.print(r)
		},
	}
}

func (a *app) renewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "renew MEMBER_ID BOOK_ID",
		Short: "Renew the member's open loan of a book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs([]string{"member id", "book id"}, args)
			if err != nil {
				return err
			}
			r, err := a.manager.RenewBorrow(cmd.Context(), ids[0], ids[1])
			if err != nil {
				return err
			}
			return a.print(r)
		},
	}
}

func (a *app) returnCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "return BORROW_ID",
		Short: "Return a loan and charge any late fee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("borrow id", args[0])
			if err != nil {
				return err
			}
			r, err := a.manager.ReturnBook(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(r)
		},
	}
}

func (a *app) reserveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reserve MEMBER_ID BOOK_ID",
		Short: "Join the waiting queue for a book with no copies available",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs([]string{"member id", "book id"}, args)
			if err != nil {
				return err
			}
			id, err := a.manager.ReserveBook(cmd.Context(), ids[0], ids[1])
			if err != nil {
				return err
			}
			return a.print(map[string]int64{"reservation_id": id})
		},
	}
}

func (a *app) payCommand() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "pay MEMBER_ID AMOUNT",
		Short: "Record a fine payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			memberID, err := parseID("member id", args[0])
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return &library.Error{Kind: library.KindInvalidInput, Message: "amount is not a number", Err: err}
			}
			r, err := a.manager.PayFine(cmd.Context(), memberID, amount, note)
			if err != nil {
				return err
			}
			return a.print(r)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "free-text note stored with the payment")
	// Flags go before the positional args so a negative AMOUNT is not read as one.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func (a *app) withdrawCommand() *cobra.Command {
	var reinstate bool
	cmd := &cobra.Command{
		Use:   "withdraw BOOK_ID",
		Short: "Take a title out of circulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book id", args[0])
			if err != nil {
				return err
			}
			if reinstate {
				err = a.manager.ReinstateBook(cmd.Context(), id)
			} else {
				err = a.manager.WithdrawBook(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			book, err := a.manager.GetBook(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(book)
		},
	}
	cmd.Flags().BoolVar(&reinstate, "reinstate", false, "return the title to circulation instead")
	return cmd
}

func (a *app) searchCommand() *cobra.Command {
	var f library.BookFilter
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := a.manager.SearchBooks(cmd.Context(), f)
			if err != nil {
				return err
			}
			return a.print(books)
		},
	}
	cmd.Flags().StringVar(&f.Title, "title", "", "title contains")
	cmd.Flags().StringVar(&f.Author, "author", "", "author name contains")
	cmd.Flags().StringVar(&f.ISBN, "isbn", "", "exact ISBN")
	cmd.Flags().StringVar(&f.Category, "category", "", "category contains")
	return cmd
}

func (a *app) availabilityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "availability BOOK_ID",
		Short: "Show per-branch copy counts for a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book id", args[0])
			if err != nil {
				return err
			}
			rows, err := a.manager.Availability(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(rows)
		},
	}
}

func (a *app) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history MEMBER_ID",
		Short: "Show a member's loans, reservations and payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("member id", args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			member, err := a.manager.GetMember(ctx, id)
			if err != nil {
				return err
			}
			loans, err := a.manager.BorrowHistory(ctx, id)
			if err != nil {
				return err
			}
			holds, err := a.manager.MemberReservations(ctx, id)
			if err != nil {
				return err
			}
			payments, err := a.manager.Payments(ctx, id)
			if err != nil {
				return err
			}
			return a.print(map[string]any{
				"member":       member,
				"loans":        loans,
				"reservations": holds,
				"payments":     payments,
			})
		},
	}
}

func (a *app) sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-holds",
		Short: "Expire Ready reservations whose hold window has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.manager.ExpireHolds(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(map[string]int64{"expired": n})
		},
	}
}

func (a *app) reportCommand() *cobra.Command {
	report := &cobra.Command{
		Use:   "report",
		Short: "Circulation reports",
	}

	var branch int64
	overdue := &cobra.Command{
		Use:   "overdue",
		Short: "Open loans past their due date at one branch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := a.manager.OverdueReportByBranch(cmd.Context(), branch)
			if err != nil {
				return err
			}
			return a.print(rows)
		},
	}
	overdue.Flags().Int64Var(&branch, "branch", 0, "branch id")
	_ = overdue.MarkFlagRequired("branch")

	top := &cobra.Command{
		Use:   "top",
		Short: "Ten most borrowed titles this month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := a.manager.TopBorrowedThisMonth(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(rows)
		},
	}

	report.AddCommand(overdue, top)
	return report
}

func parseIDs(names []string, args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, s := range args {
		id, err := parseID(names[i], s)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}
