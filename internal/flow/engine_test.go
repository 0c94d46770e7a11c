package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridedesk/internal/chatmodel"
	"github.com/ridedesk/internal/tripdata"
)

func snapshotWithEta(eta int) *tripdata.Snapshot {
	return &tripdata.Snapshot{
		Booking: &tripdata.Booking{
			ID:         "bk-1",
			Status:     "driver_assigned",
			Fare:       14.50,
			DistanceKm: 6.2,
			CreatedAt:  time.Now().Add(-5 * time.Minute),
			DriverID:   "drv-1",
		},
		Driver: &tripdata.Driver{
			ID:         "drv-1",
			Name:       "Maria Santos",
			Vehicle:    "white Toyota Prius",
			Plate:      "KA-05-1234",
			Location:   "2 blocks north of pickup",
			EtaMinutes: eta,
			Phone:      "+1-555-0134",
		},
		Traffic: &tripdata.Traffic{Congestion: "light", DelayMinutes: 0, AvgSpeedKmh: 42},
	}
}

func testContext(snap *tripdata.Snapshot) *Context {
	return &Context{
		ConversationID: "conv-1",
		BookingID:      "bk-1",
		UserID:         "u1",
		DriverID:       "drv-1",
		Snapshot:       snap,
		Thresholds:     DefaultThresholds(),
	}
}

func actionIDs(result *chatmodel.FlowResult) []string {
	ids := make([]string, 0, len(result.Actions))
	for _, a := range result.Actions {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestWhereIsRideIncludesEta(t *testing.T) {
	e := NewDefaultEngine()

	result := e.Execute(context.Background(), chatmodel.IntentWhereIsRide, testContext(snapshotWithEta(5)))
	require.NotNil(t, result)
	assert.False(t, result.Escalate)
	assert.Contains(t, result.Message, "5 minutes")
	assert.Contains(t, result.Message, "Maria Santos")
	assert.Subset(t, actionIDs(result),
		[]string{chatmodel.ActionCallDriver, chatmodel.ActionReportLate, chatmodel.ActionAcknowledge})
}

func TestWhereIsRideEscalatesWithoutContext(t *testing.T) {
	e := NewDefaultEngine()

	result := e.Execute(context.Background(), chatmodel.IntentWhereIsRide, testContext(nil))
	require.NotNil(t, result)
	assert.True(t, result.Escalate)
	assert.Equal(t, chatmodel.EscalateSupport, result.EscalationKind)
}

func TestRideLateAboveThreshold(t *testing.T) {
	e := NewDefaultEngine()

	result := e.Execute(context.Background(), chatmodel.IntentRideLate, testContext(snapshotWithEta(20)))
	assert.False(t, result.Escalate)
	assert.ElementsMatch(t,
		[]string{chatmodel.ActionWait, chatmodel.ActionCancelBooking, chatmodel.ActionCallDriver},
		actionIDs(result))
}

func TestRideLateAtOrBelowThreshold(t *testing.T) {
	e := NewDefaultEngine()

	for _, eta := range []int{10, 15} {
		result := e.Execute(context.Background(), chatmodel.IntentRideLate, testContext(snapshotWithEta(eta)))
		assert.False(t, result.Escalate, "eta %d", eta)
		assert.NotContains(t, actionIDs(result), chatmodel.ActionWait, "eta %d", eta)
		assert.Contains(t, result.Message, "Sorry", "eta %d", eta)
		assert.ElementsMatch(t,
			[]string{chatmodel.ActionCallDriver, chatmodel.ActionCancelBooking, chatmodel.ActionAcknowledge},
			actionIDs(result), "eta %d", eta)
	}
}

func TestCannotReachDriverIncrementsCounter(t *testing.T) {
	e := NewDefaultEngine()
	fc := testContext(snapshotWithEta(8))

	result := e.Execute(context.Background(), chatmodel.IntentCannotReachDriver, fc)
	assert.False(t, result.Escalate)
	assert.Equal(t, 1, result.ContactAttempts)

	fc.ContactAttempts = result.ContactAttempts
	result = e.Execute(context.Background(), chatmodel.IntentCannotReachDriver, fc)
	assert.False(t, result.Escalate)
	assert.Equal(t, 2, result.ContactAttempts)

	fc.ContactAttempts = result.ContactAttempts
	result = e.Execute(context.Background(), chatmodel.IntentCannotReachDriver, fc)
	assert.True(t, result.Escalate, "third attempt must escalate")
	assert.Equal(t, chatmodel.EscalateSupport, result.EscalationKind)
	assert.Equal(t, 3, result.ContactAttempts)
}

func TestCannotReachDriverThresholdIsIdempotent(t *testing.T) {
	e := NewDefaultEngine()
	fc := testContext(snapshotWithEta(8))
	fc.ContactAttempts = 7

	result := e.Execute(context.Background(), chatmodel.IntentCannotReachDriver, fc)
	assert.True(t, result.Escalate, "counter beyond threshold still escalates")
}

func TestCancelBookingGracePeriod(t *testing.T) {
	e := NewDefaultEngine()

	cases := []struct {
		age      time.Duration
		freeText bool
	}{
		{30 * time.Second, true},
		{119 * time.Second, true},
		{2 * time.Minute, false}, // penalized at the threshold
		{10 * time.Minute, false},
	}

	for _, tc := range cases {
		snap := snapshotWithEta(8)
		snap.Booking.CreatedAt = time.Now().Add(-tc.age)

		result := e.Execute(context.Background(), chatmodel.IntentCancelBooking, testContext(snap))
		require.False(t, result.Escalate, "age %v", tc.age)
		if tc.freeText {
			assert.Contains(t, result.Message, "free of charge", "age %v", tc.age)
		} else {
			assert.Contains(t, result.Message, "fee", "age %v", tc.age)
		}
		assert.ElementsMatch(t,
			[]string{chatmodel.ActionConfirmCancel, chatmodel.ActionKeepBooking},
			actionIDs(result), "age %v", tc.age)
	}
}

func TestUnconditionalEscalations(t *testing.T) {
	e := NewDefaultEngine()

	result := e.Execute(context.Background(), chatmodel.IntentSafetyConcern, testContext(nil))
	assert.True(t, result.Escalate)
	assert.Equal(t, chatmodel.EscalateSafety, result.EscalationKind)

	result = e.Execute(context.Background(), chatmodel.IntentHumanAgent, testContext(nil))
	assert.True(t, result.Escalate)
	assert.Equal(t, chatmodel.EscalateSupport, result.EscalationKind)
}

func TestUnknownIntentFallsBack(t *testing.T) {
	e := NewDefaultEngine()

	result := e.Execute(context.Background(), chatmodel.IntentUnknown, testContext(nil))
	assert.False(t, result.Escalate)
	assert.True(t, strings.Contains(result.Message, "support agent"))
	assert.Contains(t, actionIDs(result), chatmodel.ActionTalkToAgent)
}

func TestMessageDriverSendsNotification(t *testing.T) {
	e := NewDefaultEngine()
	mock := tripdata.NewMockProvider()

	fc := testContext(snapshotWithEta(8))
	fc.Provider = mock

	result := e.Execute(context.Background(), chatmodel.IntentMessageDriver, fc)
	assert.False(t, result.Escalate)
	require.Len(t, mock.Notifications(), 1)
	assert.Contains(t, mock.Notifications()[0], "drv-1")
}

func TestMessageDriverEscalatesWhenNotificationFails(t *testing.T) {
	e := NewDefaultEngine()
	fc := testContext(snapshotWithEta(8))
	fc.Provider = nil

	result := e.Execute(context.Background(), chatmodel.IntentMessageDriver, fc)
	assert.True(t, result.Escalate)
	assert.Equal(t, chatmodel.EscalateSupport, result.EscalationKind)
}

type recordingDriverNotifier struct {
	conversationID string
	driverID       string
	calls          int
	err            error
}

func (n *recordingDriverNotifier) NotifyDriver(ctx context.Context, conversationID, driverID, text string) error {
	n.calls++
	n.conversationID = conversationID
	n.driverID = driverID
	return n.err
}

func TestMessageDriverPrefersNotifierOverProvider(t *testing.T) {
	e := NewDefaultEngine()
	mock := tripdata.NewMockProvider()
	notifier := &recordingDriverNotifier{}

	fc := testContext(snapshotWithEta(8))
	fc.Provider = mock
	fc.Notifier = notifier

	result := e.Execute(context.Background(), chatmodel.IntentMessageDriver, fc)
	assert.False(t, result.Escalate)
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, "conv-1", notifier.conversationID)
	assert.Equal(t, "drv-1", notifier.driverID)
	assert.Empty(t, mock.Notifications(), "direct delivery skipped when a notifier is wired")
}

func TestMessageDriverEscalatesWhenNotifierFails(t *testing.T) {
	e := NewDefaultEngine()
	fc := testContext(snapshotWithEta(8))
	fc.Notifier = &recordingDriverNotifier{err: errors.New("queue down")}

	result := e.Execute(context.Background(), chatmodel.IntentMessageDriver, fc)
	assert.True(t, result.Escalate)
	assert.Equal(t, chatmodel.EscalateSupport, result.EscalationKind)
}

type panickingFlow struct{}

func (panickingFlow) Intent() chatmodel.Intent { return chatmodel.Intent("boom") }
func (panickingFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	panic("boom")
}

type failingFlow struct{}

func (failingFlow) Intent() chatmodel.Intent { return chatmodel.Intent("fail") }
func (failingFlow) Execute(ctx context.Context, fc *Context) (*chatmodel.FlowResult, error) {
	return nil, errors.New("backend exploded")
}

func TestEngineConvertsFaultsToSupportEscalation(t *testing.T) {
	e := NewEngine(&FallbackFlow{}, panickingFlow{}, failingFlow{})

	result := e.Execute(context.Background(), chatmodel.Intent("boom"), testContext(nil))
	require.NotNil(t, result)
	assert.True(t, result.Escalate)
	assert.Equal(t, chatmodel.EscalateSupport, result.EscalationKind)

	result = e.Execute(context.Background(), chatmodel.Intent("fail"), testContext(nil))
	require.NotNil(t, result)
	assert.True(t, result.Escalate)
	assert.Equal(t, chatmodel.EscalateSupport, result.EscalationKind)
}
