package service

import (
	"testing"

	"github.com/shopspring/decimal"

	"updown/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func vote(id uint64, user, choice, stake string) models.Vote {
	return models.Vote{
		ID:          id,
		UserID:      user,
		Choice:      choice,
		StakeAmount: dec(stake),
	}
}

func TestComputeOutcome(t *testing.T) {
	if got := computeOutcome(dec("100"), dec("101")); got != models.OutcomeLong {
		t.Fatalf("got %q want long", got)
	}
	if got := computeOutcome(dec("100"), dec("99.999")); got != models.OutcomeShort {
		t.Fatalf("got %q want short", got)
	}
	if got := computeOutcome(dec("100.5"), dec("100.50")); got != models.OutcomeDraw {
		t.Fatalf("got %q want draw", got)
	}
}

func TestBuildPayouts_ProRata(t *testing.T) {
	votes := []models.Vote{
		vote(1, "a", models.ChoiceLong, "40"),
		vote(2, "b", models.ChoiceLong, "60"),
		vote(3, "c", models.ChoiceShort, "50"),
	}
	status, side, items, residual := buildPayouts(votes, models.OutcomeLong)
	if status != StatusSettled {
		t.Fatalf("status=%q want settled", status)
	}
	if side != models.OutcomeLong {
		t.Fatalf("side=%q want long", side)
	}
	want := map[string]string{"a": "60", "b": "90", "c": "0"}
	for _, item := range items {
		if !item.Amount.Equal(dec(want[item.UserID])) {
			t.Fatalf("user %s payout=%s want %s", item.UserID, item.Amount, want[item.UserID])
		}
	}
	if !residual.IsZero() {
		t.Fatalf("residual=%s want 0", residual)
	}
	results := map[string]string{}
	for _, item := range items {
		results[item.UserID] = item.Result
	}
	if results["a"] != models.VoteResultWin || results["c"] != models.VoteResultLoss {
		t.Fatalf("results=%v", results)
	}
}

func TestBuildPayouts_Conservation(t *testing.T) {
	votes := []models.Vote{
		vote(1, "a", models.ChoiceLong, "33.33"),
		vote(2, "b", models.ChoiceLong, "66.67"),
		vote(3, "c", models.ChoiceLong, "10"),
		vote(4, "d", models.ChoiceShort, "77.77"),
	}
	_, _, items, residual := buildPayouts(votes, models.OutcomeLong)

	total := decimal.Zero
	winners := 0
	for _, v := range votes {
		total = total.Add(v.StakeAmount)
	}
	paid := decimal.Zero
	for _, item := range items {
		paid = paid.Add(item.Amount)
		if item.Result == models.VoteResultWin {
			winners++
		}
	}
	if !paid.Add(residual).Equal(total) {
		t.Fatalf("paid %s + residual %s != pool %s", paid, residual, total)
	}
	if residual.IsNegative() {
		t.Fatalf("residual went negative: %s", residual)
	}
	// Truncation loses at most one cent per winner.
	bound := decimal.New(int64(winners), -2)
	if residual.GreaterThan(bound) {
		t.Fatalf("residual %s exceeds bound %s", residual, bound)
	}
}

func TestBuildPayouts_DrawRefundsExactly(t *testing.T) {
	votes := []models.Vote{
		vote(1, "a", models.ChoiceLong, "20"),
		vote(2, "b", models.ChoiceShort, "35.5"),
	}
	status, side, items, residual := buildPayouts(votes, models.OutcomeDraw)
	if status != StatusDrawRefund {
		t.Fatalf("status=%q want draw_refund", status)
	}
	if side != "" {
		t.Fatalf("side=%q want empty", side)
	}
	if !residual.IsZero() {
		t.Fatalf("residual=%s want 0", residual)
	}
	for i, item := range items {
		if !item.Amount.Equal(votes[i].StakeAmount) {
			t.Fatalf("user %s refund=%s want %s", item.UserID, item.Amount, votes[i].StakeAmount)
		}
		if item.Result != models.VoteResultRefund {
			t.Fatalf("user %s result=%q want refund", item.UserID, item.Result)
		}
	}
}

func TestBuildPayouts_OneSidedRefundsRegardlessOfDirection(t *testing.T) {
	votes := []models.Vote{
		vote(1, "a", models.ChoiceLong, "10"),
		vote(2, "b", models.ChoiceLong, "90"),
	}
	for _, outcome := range []string{models.OutcomeLong, models.OutcomeShort} {
		status, _, items, _ := buildPayouts(votes, outcome)
		if status != StatusOneSideRefund {
			t.Fatalf("outcome %s: status=%q want one_side_refund", outcome, status)
		}
		for i, item := range items {
			if !item.Amount.Equal(votes[i].StakeAmount) {
				t.Fatalf("outcome %s: user %s got %s want stake back", outcome, item.UserID, item.Amount)
			}
		}
	}
}

func TestBuildPayouts_NoVotes(t *testing.T) {
	status, _, items, residual := buildPayouts(nil, models.OutcomeLong)
	if status != StatusOneSideRefund {
		t.Fatalf("status=%q want one_side_refund", status)
	}
	if len(items) != 0 || !residual.IsZero() {
		t.Fatalf("items=%d residual=%s", len(items), residual)
	}
}

func TestBuildPayouts_TruncationResidualTracked(t *testing.T) {
	// Winning pool 3, losing pool 1: each winner gets stake*4/3,
	// which does not divide evenly at cent precision.
	votes := []models.Vote{
		vote(1, "a", models.ChoiceLong, "1"),
		vote(2, "b", models.ChoiceLong, "1"),
		vote(3, "c", models.ChoiceLong, "1"),
		vote(4, "d", models.ChoiceShort, "1"),
	}
	_, _, items, residual := buildPayouts(votes, models.OutcomeLong)
	for _, item := range items {
		if item.Result != models.VoteResultWin {
			continue
		}
		if !item.Amount.Equal(dec("1.33")) {
			t.Fatalf("user %s payout=%s want 1.33", item.UserID, item.Amount)
		}
	}
	if !residual.Equal(dec("0.01")) {
		t.Fatalf("residual=%s want 0.01", residual)
	}
}
