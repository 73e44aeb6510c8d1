package flightsurety_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"github.com/flightsurety/oracle-server/flightsurety/dispatcher"
	"github.com/flightsurety/oracle-server/flightsurety/journal"
	"github.com/flightsurety/oracle-server/flightsurety/ledger"
	"github.com/flightsurety/oracle-server/flightsurety/registrar"
	"github.com/flightsurety/oracle-server/flightsurety/service"
	"github.com/flightsurety/oracle-server/flightsurety/testutil"
	"github.com/spf13/pflag" // godog v0.11.0 and later
)

var opts = godog.Options{
	Output:      colors.Uncolored(os.Stdout),
	Format:      "progress",
	Strict:      true,
	Concurrency: 4,

	Paths: []string{"features"},
}

func init() {
	godog.BindCommandLineFlags("godog.", &opts)

	if os.Getenv("CUCUMBER_WIP_ONLY") == "true" {
		opts.Concurrency = 1
		opts.Format = "pretty"
	}
}

var airline = common.HexToAddress("0xf17f52151ebef6c7334fad080c5704d77216b732")

func TestMain(m *testing.M) {
	pflag.Parse()
	if args := pflag.Args(); len(args) > 0 {
		opts.Paths = args
	}

	suite := godog.TestSuite{
		Name:                "cucumber",
		ScenarioInitializer: InitializeScenario,
		Options:             &opts,
	}

	os.Exit(suite.Run())
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		return context.WithValue(timeoutCtx, cancelKey{}, cancel), nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if cancel, ok := ctx.Value(cancelKey{}).(context.CancelFunc); ok {
			defer cancel()
		}
		w, ok := ctx.Value(testutil.WorldKey).(*testutil.World)
		if !ok {
			return ctx, err
		}
		w.Shutdown()
		return ctx, w.AddLogsToTestError(err)
	})

	ctx.Step(`^a ledger with (\d+) accounts$`, aLedgerWithAccounts)
	ctx.Step(`^a registration fee of (\d+) wei$`, aRegistrationFeeOfWei)
	ctx.Step(`^account (\d+) is assigned indexes "([^"]*)"$`, accountIsAssignedIndexes)
	ctx.Step(`^registration of account (\d+) fails with "([^"]*)"$`, registrationOfAccountFailsWith)
	ctx.Step(`^the index query of account (\d+) fails with "([^"]*)"$`, theIndexQueryOfAccountFailsWith)
	ctx.Step(`^submissions from account (\d+) fail with "([^"]*)"$`, submissionsFromAccountFailWith)
	ctx.Step(`^submissions from account (\d+) are held$`, submissionsFromAccountAreHeld)
	ctx.Step(`^the server registers (\d+) oracles from account (\d+)$`, theServerRegistersOraclesFromAccount)
	ctx.Step(`^the server registers (\d+) oracles from account (\d+) with the "([^"]*)" policy$`, theServerRegistersOraclesFromAccountWithThePolicy)
	ctx.Step(`^the oracle server is running with the "([^"]*)" trigger$`, theOracleServerIsRunningWithTheTrigger)
	ctx.Step(`^registration should succeed$`, registrationShouldSucceed)
	ctx.Step(`^I should see an error containing "([^"]*)"$`, iShouldSeeAnErrorContaining)
	ctx.Step(`^the pool should hold (\d+) oracles?$`, thePoolShouldHoldOracles)
	ctx.Step(`^oracle (\d+) should hold indexes "([^"]*)"$`, oracleShouldHoldIndexes)
	ctx.Step(`^account (\d+) should be registered on chain$`, accountShouldBeRegisteredOnChain)
	ctx.Step(`^the contract emits an oracle request with index (\d+) for flight "([^"]*)"$`, theContractEmitsAnOracleRequest)
	ctx.Step(`^the contract emits a response for indexes "([^"]*)" on flight "([^"]*)"$`, theContractEmitsAResponse)
	ctx.Step(`^the contract emits a malformed oracle request$`, theContractEmitsAMalformedOracleRequest)
	ctx.Step(`^the contract (?:emits|emitted) a "([^"]*)" event$`, theContractEmitsAnEvent)
	ctx.Step(`^oracle (\d+) should submit (\d+) responses?$`, oracleShouldSubmitResponses)
	ctx.Step(`^the event index should be null$`, theEventIndexShouldBeNull)
	ctx.Step(`^the event index should be (\d+)$`, theEventIndexShouldBe)
	ctx.Step(`^the logs should contain "([^"]*)"$`, theLogsShouldContain)
	ctx.Step(`^the journal should hold (\d+) "([^"]*)" events?$`, theJournalShouldHoldEvents)
	ctx.Step(`^the events endpoint should list (\d+) events$`, theEventsEndpointShouldListEvents)
}

type cancelKey struct{}

// eventually polls cond until it holds or the scenario times out.
func eventually(ctx context.Context, cond func() (bool, error)) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := cond()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			if err == nil {
				err = errors.New("condition not met")
			}
			return fmt.Errorf("timed out: %w", err)
		case <-ticker.C:
		}
	}
}

func parseIndexes(s string) ([]uint8, error) {
	var out []uint8
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q: %w", f, err)
		}
		out = append(out, uint8(n))
	}
	return out, nil
}

func aLedgerWithAccounts(ctx context.Context, n int) (context.Context, error) {
	w, err := testutil.NewWorld(n)
	if err != nil {
		return ctx, fmt.Errorf("failed to create world: %w", err)
	}
	return testutil.WithWorld(ctx, w), nil
}

func aRegistrationFeeOfWei(ctx context.Context, fee int64) error {
	testutil.GetWorld(ctx).Ledger.SetFee(big.NewInt(fee))
	return nil
}

func accountIsAssignedIndexes(ctx context.Context, account int, indexes string) error {
	w := testutil.GetWorld(ctx)
	idx, err := parseIndexes(indexes)
	if err != nil {
		return err
	}
	w.Ledger.AssignIndexes(w.Ledger.Account(account), idx)
	return nil
}

func registrationOfAccountFailsWith(ctx context.Context, account int, msg string) error {
	w := testutil.GetWorld(ctx)
	w.Ledger.FailRegistration(w.Ledger.Account(account), errors.New(msg))
	return nil
}

func theIndexQueryOfAccountFailsWith(ctx context.Context, account int, msg string) error {
	w := testutil.GetWorld(ctx)
	w.Ledger.FailIndexQuery(w.Ledger.Account(account), errors.New(msg))
	return nil
}

func submissionsFromAccountFailWith(ctx context.Context, account int, msg string) error {
	w := testutil.GetWorld(ctx)
	w.Ledger.FailSubmission(w.Ledger.Account(account), fmt.Errorf("%w: %s", ledger.ErrTransactionReverted, msg))
	return nil
}

func submissionsFromAccountAreHeld(ctx context.Context, account int) error {
	w := testutil.GetWorld(ctx)
	// released when the scenario context ends
	w.Ledger.HoldSubmissions(w.Ledger.Account(account))
	return nil
}

func theServerRegistersOraclesFromAccount(ctx context.Context, count, offset int) error {
	return theServerRegistersOraclesFromAccountWithThePolicy(ctx, count, offset, string(registrar.CommitEach))
}

func theServerRegistersOraclesFromAccountWithThePolicy(ctx context.Context, count, offset int, policy string) error {
	commit, err := registrar.ParseCommitPolicy(policy)
	if err != nil {
		return err
	}
	return testutil.GetWorld(ctx).Start(ctx, service.Options{
		Offset: offset,
		Count:  count,
		Commit: commit,
		Status: dispatcher.FixedStatus(contract.StatusOnTime),
	})
}

func theOracleServerIsRunningWithTheTrigger(ctx context.Context, trigger string) error {
	tr, err := service.ParseTrigger(trigger)
	if err != nil {
		return err
	}
	w := testutil.GetWorld(ctx)
	err = w.Start(ctx, service.Options{
		Offset:  5,
		Count:   2,
		Trigger: tr,
		Status:  dispatcher.FixedStatus(contract.StatusOnTime),
		History: ledger.StartGenesis,
	})
	if err != nil {
		return err
	}
	if w.LastError != nil {
		return fmt.Errorf("failed to register oracles: %w", w.LastError)
	}
	return nil
}

func registrationShouldSucceed(ctx context.Context) error {
	w := testutil.GetWorld(ctx)
	if w.LastError != nil {
		return fmt.Errorf("registration failed: %w", w.LastError)
	}
	return nil
}

func iShouldSeeAnErrorContaining(ctx context.Context, expectedSubstring string) error {
	w := testutil.GetWorld(ctx)

	if w.LastError == nil {
		return fmt.Errorf("no error occurred")
	}

	if !strings.Contains(w.LastError.Error(), expectedSubstring) {
		return fmt.Errorf("error %w does not contain expected substring: %s", w.LastError, expectedSubstring)
	}

	return nil
}

func thePoolShouldHoldOracles(ctx context.Context, n int) error {
	w := testutil.GetWorld(ctx)
	if got := w.Service.Pool().Len(); got != n {
		return fmt.Errorf("expected %d oracles in the pool, got %d", n, got)
	}
	return nil
}

func oracleShouldHoldIndexes(ctx context.Context, account int, indexes string) error {
	w := testutil.GetWorld(ctx)
	want, err := parseIndexes(indexes)
	if err != nil {
		return err
	}
	got, err := w.Service.Pool().IndexesOf(w.Ledger.Account(account))
	if err != nil {
		return err
	}
	if !slices.Equal(want, got) {
		return fmt.Errorf("expected indexes %v, got %v", want, got)
	}
	return nil
}

func accountShouldBeRegisteredOnChain(ctx context.Context, account int) error {
	w := testutil.GetWorld(ctx)
	if !w.Ledger.IsOracle(w.Ledger.Account(account)) {
		return fmt.Errorf("account %d is not registered on chain", account)
	}
	return nil
}

func theContractEmitsAnOracleRequest(ctx context.Context, index int, flight string) error {
	w := testutil.GetWorld(ctx)
	_, err := w.Ledger.Emit(contract.KindOracleRequest, uint8(index), airline, flight, big.NewInt(1594771200))
	return err
}

func theContractEmitsAResponse(ctx context.Context, indexes, flight string) error {
	w := testutil.GetWorld(ctx)
	idx, err := parseIndexes(indexes)
	if err != nil {
		return err
	}
	if len(idx) != contract.IndexCount {
		return fmt.Errorf("expected %d indexes, got %d", contract.IndexCount, len(idx))
	}
	_, err = w.Ledger.Emit(contract.KindSubmitOracleResponse, [contract.IndexCount]uint8(idx), airline, flight,
		big.NewInt(1594771200), contract.StatusLateWeather)
	return err
}

func theContractEmitsAMalformedOracleRequest(ctx context.Context) error {
	w := testutil.GetWorld(ctx)
	lg, err := contract.Default().EncodeLog(contract.KindOracleRequest, testutil.AppAddress, uint8(0), airline, "JJ3720", big.NewInt(1))
	if err != nil {
		return err
	}
	lg.Data = lg.Data[:31]
	w.Ledger.EmitRaw(contract.KindOracleRequest, lg)
	return nil
}

func sampleArgs(kind contract.EventKind) ([]any, error) {
	passenger := common.HexToAddress("0x821aea9a577a9b44299b9c15c88cf3087f3b5544")
	switch kind {
	case contract.KindRegisterAirline:
		return []any{airline}, nil
	case contract.KindFundedAirlines:
		return []any{airline, big.NewInt(10_000_000_000_000_000)}, nil
	case contract.KindPurchaseInsurance:
		return []any{passenger, airline, "JJ3720", big.NewInt(1594771200), big.NewInt(1_000_000_000_000_000)}, nil
	}
	return nil, fmt.Errorf("no sample arguments for %s", kind)
}

func theContractEmitsAnEvent(ctx context.Context, kind string) error {
	w := testutil.GetWorld(ctx)
	args, err := sampleArgs(contract.EventKind(kind))
	if err != nil {
		return err
	}
	_, err = w.Ledger.Emit(contract.EventKind(kind), args...)
	return err
}

func oracleShouldSubmitResponses(ctx context.Context, account, n int) error {
	w := testutil.GetWorld(ctx)
	from := w.Ledger.Account(account)

	count := func() int {
		c := 0
		for _, s := range w.Ledger.Submissions() {
			if s.From == from {
				c++
			}
		}
		return c
	}

	if n == 0 {
		if got := count(); got != 0 {
			return fmt.Errorf("expected no responses from oracle %d, got %d", account, got)
		}
		return nil
	}

	return eventually(ctx, func() (bool, error) {
		got := count()
		return got == n, fmt.Errorf("expected %d responses from oracle %d, got %d", n, account, got)
	})
}

func eventIndex(w *testutil.World) (*uint8, error) {
	rec := w.Get("/eventIndex")
	if rec.Code != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", rec.Code)
	}
	var body struct {
		Result *uint8 `json:"result"`
	}
	err := json.Unmarshal(rec.Body.Bytes(), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return body.Result, nil
}

func theEventIndexShouldBeNull(ctx context.Context) error {
	idx, err := eventIndex(testutil.GetWorld(ctx))
	if err != nil {
		return err
	}
	if idx != nil {
		return fmt.Errorf("expected null event index, got %d", *idx)
	}
	return nil
}

func theEventIndexShouldBe(ctx context.Context, want int) error {
	w := testutil.GetWorld(ctx)
	return eventually(ctx, func() (bool, error) {
		idx, err := eventIndex(w)
		if err != nil {
			return false, err
		}
		if idx == nil {
			return false, errors.New("no event index yet")
		}
		return int(*idx) == want, fmt.Errorf("expected event index %d, got %d", want, *idx)
	})
}

func theLogsShouldContain(ctx context.Context, msg string) error {
	w := testutil.GetWorld(ctx)
	return eventually(ctx, func() (bool, error) {
		return w.LogsContain(msg), fmt.Errorf("no log record %q", msg)
	})
}

func theJournalShouldHoldEvents(ctx context.Context, n int, kind string) error {
	w := testutil.GetWorld(ctx)
	return eventually(ctx, func() (bool, error) {
		entries, err := w.Journal.Entries(ctx, kind, 0)
		if err != nil {
			return false, err
		}
		return len(entries) == n, fmt.Errorf("expected %d %s entries, got %d", n, kind, len(entries))
	})
}

func theEventsEndpointShouldListEvents(ctx context.Context, n int) error {
	w := testutil.GetWorld(ctx)
	rec := w.Get("/events")
	if rec.Code != http.StatusOK {
		return fmt.Errorf("unexpected status %d", rec.Code)
	}
	var body struct {
		Result []journal.Entry `json:"result"`
	}
	err := json.Unmarshal(rec.Body.Bytes(), &body)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(body.Result) != n {
		return fmt.Errorf("expected %d events, got %d", n, len(body.Result))
	}
	return nil
}
