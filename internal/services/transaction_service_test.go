package services

import (
	"context"
	"testing"

	"fintrack/internal/events"
	"fintrack/internal/models"
	"fintrack/internal/pagination"
	"fintrack/internal/testutil"
)

var (
	jan1  = testutil.Day(2024, 1, 1)
	jan15 = testutil.Day(2024, 1, 15)
	jan31 = testutil.Day(2024, 1, 31)
)

func TestCreateTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("expense_updates_budget", func(t *testing.T) {
		env := newLedgerEnv(t)
		budget := testutil.CreateTestBudget(t, env.db, env.user.ID, env.expense.ID, "100", jan1, jan31)

		tx, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
			CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("42.50"), Date: jan15,
		})
		testutil.AssertNoError(t, err)

		if tx.ID == "" {
			t.Fatal("expected a transaction ID")
		}
		assertDecimal(t, "42.50", env.totalSpent(t, budget.ID))
	})

	t.Run("income_leaves_budget", func(t *testing.T) {
		env := newLedgerEnv(t)
		budget := testutil.CreateTestBudget(t, env.db, env.user.ID, env.expense.ID, "100", jan1, jan31)

		_, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
			CategoryID: env.income.ID, Type: models.TransactionTypeIncome, Amount: dec("1000"), Date: jan15,
		})
		testutil.AssertNoError(t, err)
		assertDecimal(t, "0", env.totalSpent(t, budget.ID))
	})

	t.Run("crossing_limit_notifies_once", func(t *testing.T) {
		env := newLedgerEnv(t)
		budget := testutil.CreateTestBudget(t, env.db, env.user.ID, env.expense.ID, "100", jan1, jan31)

		for _, amount := range []string{"90", "20", "5"} {
			_, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
				CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec(amount), Date: jan15,
			})
			testutil.AssertNoError(t, err)
		}

		got := env.notifications(t, budget.ID)
		if len(got) != 1 {
			t.Fatalf("expected 1 notification, got %d", len(got))
		}
		if got[0].Message != `Budget for category "`+env.expense.Name+`" exceeded: spent 110.00, limit 100.00` {
			t.Errorf("unexpected message %q", got[0].Message)
		}
		if ev := env.publisher.Events(); len(ev) != 1 || ev[0].Type != events.BudgetOverspent {
			t.Errorf("expected one overspent event, got %+v", ev)
		}
	})

	t.Run("with_tags", func(t *testing.T) {
		env := newLedgerEnv(t)
		tag := testutil.CreateTestTag(t, env.db, env.user.ID)

		tx, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
			CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("5"), Date: jan15, TagIDs: []string{tag.ID, tag.ID},
		})
		testutil.AssertNoError(t, err)
		if len(tx.Tags) != 1 || tx.Tags[0].ID != tag.ID {
			t.Errorf("expected tag attached, got %+v", tx.Tags)
		}
	})

	tests := []struct {
		name     string
		input    func(env *ledgerEnv) TransactionInput
		wantCode string
	}{
		{"zero_amount", func(env *ledgerEnv) TransactionInput {
			return TransactionInput{CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("0")}
		}, "INVALID_INPUT"},
		{"negative_amount", func(env *ledgerEnv) TransactionInput {
			return TransactionInput{CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("-3")}
		}, "INVALID_INPUT"},
		{"bad_type", func(env *ledgerEnv) TransactionInput {
			return TransactionInput{CategoryID: env.expense.ID, Type: "transfer", Amount: dec("3")}
		}, "INVALID_TRANSACTION_TYPE"},
		{"type_mismatch", func(env *ledgerEnv) TransactionInput {
			return TransactionInput{CategoryID: env.income.ID, Type: models.TransactionTypeExpense, Amount: dec("3")}
		}, "CATEGORY_TYPE_MISMATCH"},
		{"unknown_category", func(env *ledgerEnv) TransactionInput {
			return TransactionInput{CategoryID: "0190a0b0-0000-7000-8000-000000000000", Type: models.TransactionTypeExpense, Amount: dec("3")}
		}, "CATEGORY_NOT_FOUND"},
		{"foreign_tag", func(env *ledgerEnv) TransactionInput {
			return TransactionInput{CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("3"), TagIDs: []string{"0190a0b0-0000-7000-8000-000000000000"}}
		}, "TAG_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newLedgerEnv(t)
			_, err := env.transactions.CreateTransaction(ctx, env.user.ID, tt.input(env))
			testutil.AssertAppError(t, err, tt.wantCode)
		})
	}
}

func TestGetUserTransactions_Filters(t *testing.T) {
	ctx := context.Background()
	env := newLedgerEnv(t)
	uid := env.user.ID
	tag := testutil.CreateTestTag(t, env.db, uid)

	small := testutil.CreateTestTransaction(t, env.db, uid, env.expense.ID, models.TransactionTypeExpense, "5", jan1)
	testutil.CreateTestTransaction(t, env.db, uid, env.expense.ID, models.TransactionTypeExpense, "50", jan15)
	testutil.CreateTestTransaction(t, env.db, uid, env.income.ID, models.TransactionTypeIncome, "500", jan31)
	if err := env.db.Model(small).Association("Tags").Append(tag); err != nil {
		t.Fatalf("attach tag: %v", err)
	}

	expense := models.TransactionTypeExpense
	tests := []struct {
		name   string
		filter TransactionFilter
		want   int64
	}{
		{"none", TransactionFilter{}, 3},
		{"type", TransactionFilter{Type: &expense}, 2},
		{"category", TransactionFilter{CategoryID: &env.income.ID}, 1},
		{"from_inclusive", TransactionFilter{FromDate: &jan15}, 2},
		{"to_inclusive", TransactionFilter{ToDate: &jan15}, 2},
		{"min", TransactionFilter{MinAmount: decPtr("50")}, 2},
		{"max", TransactionFilter{MaxAmount: decPtr("49.99")}, 1},
		{"tag", TransactionFilter{TagID: &tag.ID}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.transactions.GetUserTransactions(ctx, uid, pagination.PageRequest{}, tt.filter)
			testutil.AssertNoError(t, err)
			if resp.TotalItems != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.TotalItems)
			}
		})
	}
}

func TestGetTransactionTagLinks(t *testing.T) {
	ctx := context.Background()
	env := newLedgerEnv(t)
	tag := testutil.CreateTestTag(t, env.db, env.user.ID)
	mine := testutil.CreateTestTransaction(t, env.db, env.user.ID, env.expense.ID, models.TransactionTypeExpense, "5", jan1)
	if err := env.db.Model(mine).Association("Tags").Append(tag); err != nil {
		t.Fatalf("attach tag: %v", err)
	}

	other := testutil.CreateTestUser(t, env.db)
	otherCategory := testutil.CreateTestCategory(t, env.db, other.ID, models.CategoryTypeExpense)
	otherTag := testutil.CreateTestTag(t, env.db, other.ID)
	theirs := testutil.CreateTestTransaction(t, env.db, other.ID, otherCategory.ID, models.TransactionTypeExpense, "5", jan1)
	if err := env.db.Model(theirs).Association("Tags").Append(otherTag); err != nil {
		t.Fatalf("attach tag: %v", err)
	}

	links, err := env.transactions.GetTransactionTagLinks(ctx, env.user.ID)
	testutil.AssertNoError(t, err)
	if len(links) != 1 || links[0].TransactionID != mine.ID || links[0].TagID != tag.ID {
		t.Fatalf("expected only the user's link, got %+v", links)
	}

	testutil.AssertNoError(t, env.transactions.DeleteTransaction(ctx, env.user.ID, mine.ID))
	links, err = env.transactions.GetTransactionTagLinks(ctx, env.user.ID)
	testutil.AssertNoError(t, err)
	if len(links) != 0 {
		t.Errorf("expected no links after delete, got %+v", links)
	}
}

func TestUpdateTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("amount_change_recomputes", func(t *testing.T) {
		env := newLedgerEnv(t)
		budget := testutil.CreateTestBudget(t, env.db, env.user.ID, env.expense.ID, "100", jan1, jan31)
		tx, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
			CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("150"), Date: jan15,
		})
		testutil.AssertNoError(t, err)
		if len(env.notifications(t, budget.ID)) != 1 {
			t.Fatal("expected notification at 150")
		}

		_, err = env.transactions.UpdateTransaction(ctx, env.user.ID, tx.ID, TransactionUpdate{Amount: decPtr("60")})
		testutil.AssertNoError(t, err)

		assertDecimal(t, "60", env.totalSpent(t, budget.ID))
		if len(env.notifications(t, budget.ID)) != 0 {
			t.Error("notification should be removed at 60")
		}
	})

	t.Run("category_change_moves_total", func(t *testing.T) {
		env := newLedgerEnv(t)
		other := testutil.CreateTestCategory(t, env.db, env.user.ID, models.CategoryTypeExpense)
		budgetA := testutil.CreateTestBudget(t, env.db, env.user.ID, env.expense.ID, "100", jan1, jan31)
		budgetB := testutil.CreateTestBudget(t, env.db, env.user.ID, other.ID, "100", jan1, jan31)
		tx, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
			CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("40"), Date: jan15,
		})
		testutil.AssertNoError(t, err)

		_, err = env.transactions.UpdateTransaction(ctx, env.user.ID, tx.ID, TransactionUpdate{CategoryID: &other.ID})
		testutil.AssertNoError(t, err)

		assertDecimal(t, "0", env.totalSpent(t, budgetA.ID))
		assertDecimal(t, "40", env.totalSpent(t, budgetB.ID))
	})

	t.Run("expense_to_income_clears_total", func(t *testing.T) {
		env := newLedgerEnv(t)
		budget := testutil.CreateTestBudget(t, env.db, env.user.ID, env.expense.ID, "100", jan1, jan31)
		tx, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
			CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("40"), Date: jan15,
		})
		testutil.AssertNoError(t, err)

		income := models.TransactionTypeIncome
		_, err = env.transactions.UpdateTransaction(ctx, env.user.ID, tx.ID, TransactionUpdate{Type: &income, CategoryID: &env.income.ID})
		testutil.AssertNoError(t, err)

		assertDecimal(t, "0", env.totalSpent(t, budget.ID))
	})

	t.Run("date_moved_out_of_range", func(t *testing.T) {
		env := newLedgerEnv(t)
		budget := testutil.CreateTestBudget(t, env.db, env.user.ID, env.expense.ID, "100", jan1, jan31)
		tx, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
			CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("40"), Date: jan31,
		})
		testutil.AssertNoError(t, err)
		assertDecimal(t, "40", env.totalSpent(t, budget.ID))

		feb1 := testutil.Day(2024, 2, 1)
		_, err = env.transactions.UpdateTransaction(ctx, env.user.ID, tx.ID, TransactionUpdate{Date: &feb1})
		testutil.AssertNoError(t, err)
		assertDecimal(t, "0", env.totalSpent(t, budget.ID))
	})

	t.Run("type_mismatch", func(t *testing.T) {
		env := newLedgerEnv(t)
		tx, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
			CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("40"), Date: jan15,
		})
		testutil.AssertNoError(t, err)

		_, err = env.transactions.UpdateTransaction(ctx, env.user.ID, tx.ID, TransactionUpdate{CategoryID: &env.income.ID})
		testutil.AssertAppError(t, err, "CATEGORY_TYPE_MISMATCH")
	})

	t.Run("replace_tags", func(t *testing.T) {
		env := newLedgerEnv(t)
		first := testutil.CreateTestTag(t, env.db, env.user.ID)
		second := testutil.CreateTestTag(t, env.db, env.user.ID)
		tx, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
			CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("1"), Date: jan15, TagIDs: []string{first.ID},
		})
		testutil.AssertNoError(t, err)

		ids := []string{second.ID}
		got, err := env.transactions.UpdateTransaction(ctx, env.user.ID, tx.ID, TransactionUpdate{TagIDs: &ids})
		testutil.AssertNoError(t, err)
		if len(got.Tags) != 1 || got.Tags[0].ID != second.ID {
			t.Errorf("expected only the second tag, got %+v", got.Tags)
		}
	})
}

func TestDeleteTransaction(t *testing.T) {
	ctx := context.Background()
	env := newLedgerEnv(t)
	budget := testutil.CreateTestBudget(t, env.db, env.user.ID, env.expense.ID, "100", jan1, jan31)
	tx, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
		CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("120"), Date: jan15,
	})
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, env.transactions.DeleteTransaction(ctx, env.user.ID, tx.ID))

	assertDecimal(t, "0", env.totalSpent(t, budget.ID))
	if len(env.notifications(t, budget.ID)) != 0 {
		t.Error("notification should be removed")
	}
	ev := env.publisher.Events()
	if len(ev) != 2 || ev[1].Type != events.BudgetRecovered {
		t.Errorf("expected overspent then recovered, got %+v", ev)
	}

	_, err = env.transactions.GetTransactionByID(ctx, env.user.ID, tx.ID)
	testutil.AssertAppError(t, err, "TRANSACTION_NOT_FOUND")

	err = env.transactions.DeleteTransaction(ctx, env.user.ID, tx.ID)
	testutil.AssertAppError(t, err, "TRANSACTION_NOT_FOUND")
}

func TestGetTransactionByID_OtherUser(t *testing.T) {
	ctx := context.Background()
	env := newLedgerEnv(t)
	tx := testutil.CreateTestTransaction(t, env.db, env.user.ID, env.expense.ID, models.TransactionTypeExpense, "1", jan1)
	intruder := testutil.CreateTestUser(t, env.db)

	_, err := env.transactions.GetTransactionByID(ctx, intruder.ID, tx.ID)
	testutil.AssertAppError(t, err, "TRANSACTION_NOT_FOUND")
}

// A writer that moves the transaction after it was read but before its keys
// are locked must not leave the intermediate category's budget counting it.
func TestTransactionMutation_ConcurrentMove(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*ledgerEnv, *models.Transaction, *models.Category, *models.Category) {
		env := newLedgerEnv(t)
		b := testutil.CreateTestCategory(t, env.db, env.user.ID, models.CategoryTypeExpense)
		c := testutil.CreateTestCategory(t, env.db, env.user.ID, models.CategoryTypeExpense)
		tx, err := env.transactions.CreateTransaction(ctx, env.user.ID, TransactionInput{
			CategoryID: env.expense.ID, Type: models.TransactionTypeExpense, Amount: dec("50"), Date: jan15,
		})
		testutil.AssertNoError(t, err)
		return env, tx, b, c
	}

	moveOnFirstApply := func(t *testing.T, env *ledgerEnv, txID, categoryID string) *hookedLedger {
		return &hookedLedger{
			LedgerApplier: env.ledger,
			before: func(call int) {
				if call != 1 {
					return
				}
				_, err := env.transactions.UpdateTransaction(ctx, env.user.ID, txID, TransactionUpdate{CategoryID: &categoryID})
				if err != nil {
					t.Errorf("competing update: %v", err)
				}
			},
		}
	}

	t.Run("update", func(t *testing.T) {
		env, tx, b, c := setup(t)
		budgetA := testutil.CreateTestBudget(t, env.db, env.user.ID, env.expense.ID, "100", jan1, jan31)
		budgetB := testutil.CreateTestBudget(t, env.db, env.user.ID, b.ID, "100", jan1, jan31)
		budgetC := testutil.CreateTestBudget(t, env.db, env.user.ID, c.ID, "100", jan1, jan31)

		ledger := moveOnFirstApply(t, env, tx.ID, b.ID)
		racing := NewTransactionService(env.db, ledger)

		got, err := racing.UpdateTransaction(ctx, env.user.ID, tx.ID, TransactionUpdate{CategoryID: &c.ID})
		testutil.AssertNoError(t, err)

		if got.CategoryID != c.ID {
			t.Fatalf("expected transaction in %s, got %s", c.ID, got.CategoryID)
		}
		assertDecimal(t, "0", env.totalSpent(t, budgetA.ID))
		assertDecimal(t, "0", env.totalSpent(t, budgetB.ID))
		assertDecimal(t, "50", env.totalSpent(t, budgetC.ID))

		if len(ledger.keys) != 2 || !hasKey(ledger.keys[1], b.ID) {
			t.Errorf("expected a second apply locking the moved category, got %+v", ledger.keys)
		}
	})

	t.Run("delete", func(t *testing.T) {
		env, tx, b, _ := setup(t)
		budgetB := testutil.CreateTestBudget(t, env.db, env.user.ID, b.ID, "10", jan1, jan31)

		racing := NewTransactionService(env.db, moveOnFirstApply(t, env, tx.ID, b.ID))
		testutil.AssertNoError(t, racing.DeleteTransaction(ctx, env.user.ID, tx.ID))

		assertDecimal(t, "0", env.totalSpent(t, budgetB.ID))
		if len(env.notifications(t, budgetB.ID)) != 0 {
			t.Error("notification on the moved category should be gone")
		}
	})

	t.Run("gives_up_when_always_stale", func(t *testing.T) {
		env, tx, b, c := setup(t)
		budgetA := testutil.CreateTestBudget(t, env.db, env.user.ID, env.expense.ID, "100", jan1, jan31)
		budgetB := testutil.CreateTestBudget(t, env.db, env.user.ID, b.ID, "100", jan1, jan31)

		ledger := &hookedLedger{LedgerApplier: env.ledger}
		ledger.before = func(call int) {
			target := b.ID
			if call%2 == 0 {
				target = env.expense.ID
			}
			if _, err := env.transactions.UpdateTransaction(ctx, env.user.ID, tx.ID, TransactionUpdate{CategoryID: &target}); err != nil {
				t.Errorf("competing update: %v", err)
			}
		}
		racing := NewTransactionService(env.db, ledger)

		_, err := racing.UpdateTransaction(ctx, env.user.ID, tx.ID, TransactionUpdate{CategoryID: &c.ID})
		testutil.AssertAppError(t, err, "CONFLICT")

		// Three attempts, the last competing move left it in B.
		assertDecimal(t, "0", env.totalSpent(t, budgetA.ID))
		assertDecimal(t, "50", env.totalSpent(t, budgetB.ID))
	})
}
