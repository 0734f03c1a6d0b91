package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/heartrate"
	"github.com/srg/heartflot/internal/store"
	"github.com/stretchr/testify/suite"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type MonitorTestSuite struct {
	suite.Suite

	central *fakeCentral
	store   store.Store
	opts    Options
	logger  *logrus.Logger
	mon     *Monitor
	cancel  context.CancelFunc
}

func (s *MonitorTestSuite) SetupTest() {
	s.logger, _ = test.NewNullLogger()
	s.central = newFakeCentral()
	s.store = store.NewMemory()
	s.opts = Options{
		ScanTimeout:      100 * time.Millisecond,
		StalenessTimeout: 250 * time.Millisecond,
	}
	s.mon = nil
}

func (s *MonitorTestSuite) TearDownTest() {
	if s.mon != nil {
		s.mon.Close()
		s.cancel()
	}
}

func (s *MonitorTestSuite) start() *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mon = New(s.central, s.store, s.opts, s.logger)
	s.mon.Start(ctx)
	return s.mon
}

func (s *MonitorTestSuite) waitStatus(want Status) {
	s.Require().Eventually(func() bool {
		return s.mon.Snapshot().Connection.Status == want
	}, waitFor, tick, "status MUST become %s", want)
}

// connect brings a fake sensor up to the subscribed state.
func (s *MonitorTestSuite) connect(address string) *fakeLink {
	s.Require().NoError(s.mon.Connect(address))
	s.Require().Eventually(func() bool {
		link := s.central.lastLink()
		if link == nil || link.address != address {
			return false
		}
		select {
		case <-link.subscribed:
			return true
		default:
			return false
		}
	}, waitFor, tick, "sensor MUST get subscribed")
	s.waitStatus(StatusConnected)
	return s.central.lastLink()
}

func (s *MonitorTestSuite) sendBPM(link *fakeLink, bpm int) {
	link.notify(bpm)
	s.Require().Eventually(func() bool {
		last := s.mon.Snapshot().LastSample
		return last != nil && last.BPM == bpm
	}, waitFor, tick, "sample %d MUST reach the snapshot", bpm)
}

func (s *MonitorTestSuite) errorKind() device.Kind {
	if e := s.mon.Snapshot().LastError; e != nil {
		return e.Kind
	}
	return ""
}

// --- scanning ---

func (s *MonitorTestSuite) TestScanAutoStopsWithoutAdvertisements() {
	s.start()
	s.Require().NoError(s.mon.StartScan())
	s.Equal(StatusScanning, s.mon.Snapshot().Connection.Status)

	s.waitStatus(StatusDisconnected)
	s.Empty(s.mon.Snapshot().Devices, "no advertisements MUST leave the registry empty")
	s.Nil(s.mon.Snapshot().LastError)
}

func (s *MonitorTestSuite) TestScanCollectsDevicesByRSSI() {
	s.central.adverts = []device.Advertisement{
		{Address: "AA", Name: "Polar H10", RSSI: -80},
		{Address: "BB", Name: "Garmin HRM", RSSI: -40},
		{Address: "AA", RSSI: -60},
	}
	s.start()
	s.Require().NoError(s.mon.StartScan())

	s.Require().Eventually(func() bool {
		d := s.mon.Snapshot().Devices
		return len(d) == 2 && d[1].RSSI == -60
	}, waitFor, tick)

	devices := s.mon.Snapshot().Devices
	s.Equal("BB", devices[0].Address, "strongest device MUST be first")
	s.Equal("Polar H10", devices[1].Name, "anonymous advertisement MUST NOT erase the name")
}

func (s *MonitorTestSuite) TestStartScanTwiceIsNoop() {
	s.opts.ScanTimeout = time.Hour
	s.start()
	s.Require().NoError(s.mon.StartScan())
	s.Require().NoError(s.mon.StartScan())

	s.Require().Eventually(func() bool { return s.central.scans.Load() >= 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	s.EqualValues(1, s.central.scans.Load(), "second StartScan MUST NOT start another scan")

	s.Require().NoError(s.mon.StopScan())
	s.Equal(StatusDisconnected, s.mon.Snapshot().Connection.Status)
	s.Require().NoError(s.mon.StopScan(), "StopScan MUST be idempotent")
}

func (s *MonitorTestSuite) TestStartScanAdapterDisabled() {
	s.central.readyErr = device.NewError(device.KindAdapterDisabled, "radio off")
	s.start()

	err := s.mon.StartScan()
	s.True(errors.Is(err, device.ErrAdapterDisabled))
	s.Equal(device.KindAdapterDisabled, s.errorKind(), "failure MUST land in the error slot")
	s.Equal(StatusDisconnected, s.mon.Snapshot().Connection.Status)
}

func (s *MonitorTestSuite) TestStartScanPermissionDenied() {
	s.central.readyErr = device.ErrPermissionDenied
	s.start()

	s.ErrorIs(s.mon.StartScan(), device.ErrPermissionDenied)
	s.Equal(device.KindPermissionDenied, s.errorKind())
}

func (s *MonitorTestSuite) TestScanFailureReturnsToIdle() {
	s.central.scanErr = device.NewError(device.KindAdapterDisabled, "hci gone")
	s.opts.ScanTimeout = time.Hour
	s.start()

	s.Require().NoError(s.mon.StartScan())
	s.waitStatus(StatusDisconnected)
	s.Equal(device.KindAdapterDisabled, s.errorKind())
}

func (s *MonitorTestSuite) TestScanWhileConnectedIsBusy() {
	s.start()
	s.connect("AA")

	s.ErrorIs(s.mon.StartScan(), device.ErrBusy)
	s.Equal(StatusConnected, s.mon.Snapshot().Connection.Status)
}

func (s *MonitorTestSuite) TestDisconnectDuringScanKeepsScanning() {
	s.central.adverts = []device.Advertisement{{Address: "AA", Name: "Polar H10", RSSI: -50}}
	s.opts.ScanTimeout = time.Hour
	s.start()
	s.Require().NoError(s.mon.StartScan())
	s.Require().Eventually(func() bool { return len(s.mon.Snapshot().Devices) == 1 }, waitFor, tick)

	s.Require().NoError(s.mon.Disconnect())

	snap := s.mon.Snapshot()
	s.Equal(StatusScanning, snap.Connection.Status, "disconnect without a link MUST leave the scan running")
	s.Len(snap.Devices, 1, "disconnect MUST NOT clear the scan results")
	s.EqualValues(1, s.central.scans.Load())

	s.Require().NoError(s.mon.StopScan())
	s.Equal(StatusDisconnected, s.mon.Snapshot().Connection.Status)
}

// --- connection ---

func (s *MonitorTestSuite) TestConnectDecodesNotifications() {
	s.start()
	link := s.connect("AA:BB:CC:DD:EE:FF")

	s.sendBPM(link, 72)
	s.sendBPM(link, 300)

	snap := s.mon.Snapshot()
	s.Equal(300, snap.CurrentBPM, "16-bit values MUST decode")
	s.Len(snap.Recent, 2)
	s.Require().NotNil(snap.Connection.Peripheral)
	s.Equal("AA:BB:CC:DD:EE:FF", snap.Connection.Peripheral.Address)
	s.WithinDuration(time.Now(), snap.LastSample.Time(), time.Second, "sample MUST carry wall-clock time")
}

func (s *MonitorTestSuite) TestConnectStopsScanAndKeepsName() {
	s.central.adverts = []device.Advertisement{{Address: "AA", Name: "Polar H10", RSSI: -50}}
	s.opts.ScanTimeout = time.Hour
	s.start()
	s.Require().NoError(s.mon.StartScan())
	s.Require().Eventually(func() bool { return len(s.mon.Snapshot().Devices) == 1 }, waitFor, tick)

	s.connect("AA")
	s.Equal("Polar H10", s.mon.Snapshot().Connection.Peripheral.Name)
}

func (s *MonitorTestSuite) TestRecentWindowIsBounded() {
	s.opts.RecentWindow = 3
	s.start()
	link := s.connect("AA")

	for bpm := 60; bpm < 66; bpm++ {
		s.sendBPM(link, bpm)
	}
	recent := s.mon.Snapshot().Recent
	s.Require().Len(recent, 3)
	s.Equal(63, recent[0].BPM, "window MUST keep the newest samples")
	s.Equal(65, recent[2].BPM)
}

func (s *MonitorTestSuite) TestServiceNotSupported() {
	s.central.profiles["AA"] = &device.Profile{Services: []device.ServiceInfo{{UUID: "180f"}}}
	s.start()

	s.Require().NoError(s.mon.Connect("AA"))
	s.Require().Eventually(func() bool { return s.errorKind() == device.KindServiceNotSupported }, waitFor, tick)
	s.waitStatus(StatusDisconnected)
	s.Require().Eventually(func() bool { return s.central.lastLink().closed.Load() == 1 }, waitFor, tick, "link MUST be closed")
}

func (s *MonitorTestSuite) TestCharacteristicNotSupported() {
	s.central.profiles["AA"] = &device.Profile{Services: []device.ServiceInfo{
		{UUID: heartrate.ServiceUUID, Characteristics: []device.CharacteristicInfo{{UUID: "2a38"}}},
	}}
	s.start()

	s.Require().NoError(s.mon.Connect("AA"))
	s.Require().Eventually(func() bool { return s.errorKind() == device.KindCharacteristicNotSupported }, waitFor, tick)
	s.waitStatus(StatusDisconnected)
}

func (s *MonitorTestSuite) TestConnectFailure() {
	s.central.connectErr = errors.New("le-connection-abort-by-local")
	s.start()

	s.Require().NoError(s.mon.Connect("AA"))
	s.Require().Eventually(func() bool { return s.errorKind() == device.KindConnectionLost }, waitFor, tick)
	s.waitStatus(StatusDisconnected)
	s.Nil(s.mon.Snapshot().Connection.Peripheral)
}

func (s *MonitorTestSuite) TestConnectRejectsEmptyAddress() {
	s.start()
	s.Error(s.mon.Connect(""))
	s.Equal(StatusDisconnected, s.mon.Snapshot().Connection.Status)
}

func (s *MonitorTestSuite) TestConnectWithoutTimeoutWaits() {
	s.central.blockConnect = true
	s.start()

	s.Require().NoError(s.mon.Connect("AA"))
	time.Sleep(100 * time.Millisecond)
	s.Equal(StatusConnecting, s.mon.Snapshot().Connection.Status, "without a connect timeout the attempt MUST stay pending")

	s.Require().NoError(s.mon.Disconnect())
	s.Equal(StatusDisconnected, s.mon.Snapshot().Connection.Status)
	s.Nil(s.mon.Snapshot().LastError, "user disconnect MUST NOT raise an error")
}

func (s *MonitorTestSuite) TestConnectTimeout() {
	s.central.blockConnect = true
	s.opts.ConnectTimeout = 50 * time.Millisecond
	s.start()

	s.Require().NoError(s.mon.Connect("AA"))
	s.Require().Eventually(func() bool { return s.errorKind() == device.KindConnectionLost }, waitFor, tick)
	s.Equal(StatusDisconnected, s.mon.Snapshot().Connection.Status)
}

func (s *MonitorTestSuite) TestConnectReplacesExistingConnection() {
	s.start()
	first := s.connect("AA")
	second := s.connect("BB")

	s.Require().Eventually(func() bool { return first.closed.Load() == 1 }, waitFor, tick, "old link MUST be torn down")
	s.Equal("BB", s.mon.Snapshot().Connection.Peripheral.Address)
	s.Zero(second.closed.Load())

	first.notify(99)
	s.sendBPM(second, 70)
	s.Equal(70, s.mon.Snapshot().CurrentBPM, "old link notifications MUST be dropped")
}

func (s *MonitorTestSuite) TestLinkLoss() {
	s.start()
	link := s.connect("AA")
	s.sendBPM(link, 80)

	link.drop()
	s.waitStatus(StatusDisconnected)

	snap := s.mon.Snapshot()
	s.Equal(device.KindConnectionLost, s.errorKind())
	s.Zero(snap.CurrentBPM, "current reading MUST reset on loss")
	s.Nil(snap.Connection.Peripheral)
}

func (s *MonitorTestSuite) TestDisconnectIsIdempotent() {
	s.start()
	s.Require().NoError(s.mon.Disconnect())

	link := s.connect("AA")
	s.sendBPM(link, 80)
	s.Require().NoError(s.mon.ShowOverlay())

	s.Require().NoError(s.mon.Disconnect())
	s.Require().NoError(s.mon.Disconnect())

	snap := s.mon.Snapshot()
	s.Equal(StatusDisconnected, snap.Connection.Status)
	s.Zero(snap.CurrentBPM)
	s.False(snap.OverlayVisible, "overlay MUST hide on disconnect")
	s.Nil(snap.LastError)
	s.Require().Eventually(func() bool { return link.closed.Load() == 1 }, waitFor, tick)
}

func (s *MonitorTestSuite) TestLateNotificationAfterDisconnectIsDropped() {
	s.start()
	link := s.connect("AA")
	s.Require().NoError(s.mon.Disconnect())
	version := s.mon.Snapshot().Version

	link.notify(120)
	time.Sleep(30 * time.Millisecond)

	s.Zero(s.mon.Snapshot().CurrentBPM)
	s.Equal(version, s.mon.Snapshot().Version, "stale callback MUST NOT publish")
}

// --- staleness ---

func (s *MonitorTestSuite) TestStalenessDisconnects() {
	s.start()
	link := s.connect("AA")
	s.sendBPM(link, 75)

	s.waitStatus(StatusDisconnected)
	s.Equal(device.KindConnectionLost, s.errorKind())
	s.Contains(s.mon.Snapshot().LastError.Message, "no heart-rate data")
}

func (s *MonitorTestSuite) TestNotificationsKeepConnectionAlive() {
	s.start()
	link := s.connect("AA")

	deadline := time.Now().Add(2 * s.opts.StalenessTimeout)
	for bpm := 60; time.Now().Before(deadline); bpm++ {
		link.notify(bpm)
		time.Sleep(s.opts.StalenessTimeout / 5)
	}
	s.Equal(StatusConnected, s.mon.Snapshot().Connection.Status, "steady samples MUST keep the link")
}

// --- recording ---

func (s *MonitorTestSuite) TestRecordingRequiresConnection() {
	s.start()

	s.ErrorIs(s.mon.StartRecording(), device.ErrNotConnected)
	s.ErrorIs(s.mon.ToggleRecording(), device.ErrNotConnected)
	s.Equal(device.KindNotConnected, s.errorKind())
	s.False(s.mon.Snapshot().Recording)

	s.Require().NoError(s.mon.ClearError())
	s.Nil(s.mon.Snapshot().LastError, "ClearError MUST empty the slot")
}

func (s *MonitorTestSuite) TestRecordingPersistsSamples() {
	s.start()
	link := s.connect("AA")
	s.sendBPM(link, 50)

	s.Require().NoError(s.mon.ToggleRecording())
	snap := s.mon.Snapshot()
	s.True(snap.Recording)
	s.NotEmpty(snap.SessionID)
	id := snap.SessionID

	for _, bpm := range []int{70, 71, 72} {
		s.sendBPM(link, bpm)
	}
	s.Equal(3, s.mon.Snapshot().RecordedSamples, "only samples after start MUST be recorded")

	s.Require().NoError(s.mon.ToggleRecording())
	s.False(s.mon.Snapshot().Recording)

	sessions, err := s.mon.Sessions(context.Background())
	s.Require().NoError(err)
	s.Require().Len(sessions, 1)
	got := sessions[0]
	s.Equal(id, got.ID)
	s.Require().Len(got.Samples, 3)
	s.Equal([]int{70, 71, 72}, []int{got.Samples[0].BPM, got.Samples[1].BPM, got.Samples[2].BPM})
	s.Equal(got.Samples[0].Timestamp, got.StartTime)
	s.Equal(got.Samples[2].Timestamp, got.EndTime)
	s.Require().NotNil(got.DeviceAddress)
	s.Equal("AA", *got.DeviceAddress)
}

func (s *MonitorTestSuite) TestRecordingWithoutSamplesPersistsNothing() {
	s.start()
	s.connect("AA")

	s.Require().NoError(s.mon.StartRecording())
	s.Require().NoError(s.mon.StopRecording())

	sessions, err := s.mon.Sessions(context.Background())
	s.Require().NoError(err)
	s.Empty(sessions)
}

func (s *MonitorTestSuite) TestConnectionLossFinalizesRecording() {
	s.start()
	link := s.connect("AA")
	s.Require().NoError(s.mon.StartRecording())
	s.sendBPM(link, 90)
	s.sendBPM(link, 91)

	link.drop()
	s.waitStatus(StatusDisconnected)
	s.False(s.mon.Snapshot().Recording)

	sessions, err := s.mon.Sessions(context.Background())
	s.Require().NoError(err)
	s.Require().Len(sessions, 1, "loss while recording MUST persist the partial session")
	s.Len(sessions[0].Samples, 2)
}

func (s *MonitorTestSuite) TestStalenessFinalizesRecording() {
	s.start()
	link := s.connect("AA")
	s.Require().NoError(s.mon.StartRecording())
	s.sendBPM(link, 90)

	s.waitStatus(StatusDisconnected)
	sessions, err := s.mon.Sessions(context.Background())
	s.Require().NoError(err)
	s.Len(sessions, 1)
}

func (s *MonitorTestSuite) TestPersistenceFailureSurfaces() {
	s.store = failingStore{Memory: store.NewMemory()}
	s.start()
	link := s.connect("AA")
	s.Require().NoError(s.mon.StartRecording())
	s.sendBPM(link, 90)
	s.Require().NoError(s.mon.StopRecording())

	s.Require().Eventually(func() bool { return s.errorKind() == device.KindPersistenceFailure }, waitFor, tick)
	s.Equal(StatusConnected, s.mon.Snapshot().Connection.Status, "persistence failure MUST NOT drop the link")
}

func (s *MonitorTestSuite) TestSessionEditing() {
	s.start()
	link := s.connect("AA")
	s.Require().NoError(s.mon.StartRecording())
	s.sendBPM(link, 90)
	s.Require().NoError(s.mon.StopRecording())

	sessions, err := s.mon.Sessions(context.Background())
	s.Require().NoError(err)
	s.Require().Len(sessions, 1)
	id := sessions[0].ID

	s.mon.UpdateNote(id, "intervals")
	got, err := s.mon.Session(context.Background(), id)
	s.Require().NoError(err)
	s.Equal("intervals", got.Note)

	s.mon.DeleteSession(id)
	_, err = s.mon.Session(context.Background(), id)
	s.ErrorIs(err, store.ErrNotFound)

	s.mon.ClearSessions()
	sessions, err = s.mon.Sessions(context.Background())
	s.Require().NoError(err)
	s.Empty(sessions)
}

// --- observation ---

func (s *MonitorTestSuite) TestSubscribeSeesOrderedVersions() {
	s.start()
	ch, cancel := s.mon.Subscribe()
	defer cancel()

	first := <-ch
	s.Equal(StatusDisconnected, first.Connection.Status, "subscriber MUST get the current state first")

	link := s.connect("AA")
	s.sendBPM(link, 66)

	last := first.Version
	for {
		select {
		case snap := <-ch:
			s.Greater(snap.Version, last, "versions MUST increase")
			last = snap.Version
			if snap.CurrentBPM == 66 {
				return
			}
		case <-time.After(waitFor):
			s.FailNow("snapshot with the sample never arrived")
		}
	}
}

func (s *MonitorTestSuite) TestLaggingSubscriberIsReportedOnRelease() {
	logger, hook := test.NewNullLogger()
	s.logger = logger
	s.opts.SubscriberBuffer = 1
	s.opts.ScanTimeout = time.Hour
	s.start()

	_, cancel := s.mon.Subscribe()
	s.Require().NoError(s.mon.StartScan())
	s.Require().NoError(s.mon.StopScan())
	cancel()

	var released *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Subscriber released after falling behind" {
			released = e
		}
	}
	s.Require().NotNil(released, "unread snapshots MUST be reported when the subscriber leaves")
	s.Equal(logrus.WarnLevel, released.Level)
	s.Equal("snapshot", released.Data["stream"])
	overwritten := released.Data["overwritten"].(int64)
	s.Positive(overwritten)
	s.Equal(overwritten+1, released.Data["sent"].(int64), "a one-slot buffer MUST keep only the newest snapshot")
}

func (s *MonitorTestSuite) TestOverlayPublishesChangesOnly() {
	s.start()
	ch, cancel := s.mon.Overlay()
	defer cancel()

	s.Equal(OverlayState{}, <-ch)

	s.Require().NoError(s.mon.ShowOverlay())
	s.Equal(OverlayState{Visible: true}, <-ch)

	s.Require().NoError(s.mon.ClearError())
	s.Require().NoError(s.mon.ShowOverlay())
	select {
	case st := <-ch:
		s.Failf("unexpected overlay update", "%+v", st)
	case <-time.After(30 * time.Millisecond):
	}

	s.Require().NoError(s.mon.HideOverlay())
	s.Equal(OverlayState{}, <-ch)
}

func (s *MonitorTestSuite) TestOverlayOnConnect() {
	s.opts.OverlayOnConnect = true
	s.start()
	ch, cancel := s.mon.Overlay()
	defer cancel()
	<-ch

	link := s.connect("AA")
	s.sendBPM(link, 88)
	s.Require().Eventually(func() bool {
		select {
		case st := <-ch:
			return st == OverlayState{BPM: 88, Visible: true, Connected: true}
		default:
			return false
		}
	}, waitFor, tick, "overlay MUST show the live reading after connect")
}

// --- lifecycle ---

func (s *MonitorTestSuite) TestCloseFinalizesAndStops() {
	s.start()
	link := s.connect("AA")
	s.Require().NoError(s.mon.StartRecording())
	s.sendBPM(link, 77)
	ch, _ := s.mon.Subscribe()

	s.mon.Close()

	sessions, err := s.store.List(context.Background())
	s.Require().NoError(err)
	s.Len(sessions, 1, "Close MUST persist the active recording")
	s.ErrorIs(s.mon.StartScan(), ErrNotRunning)
	s.Require().Eventually(func() bool { return link.closed.Load() == 1 }, waitFor, tick)

	for range ch {
	}
}

func (s *MonitorTestSuite) TestCommandsBeforeStart() {
	mon := New(s.central, s.store, s.opts, s.logger)
	s.ErrorIs(mon.StartScan(), ErrNotRunning)
	mon.Close()
}

func (s *MonitorTestSuite) TestContextCancelStopsDispatcher() {
	s.start()
	s.cancel()
	s.Require().Eventually(func() bool {
		return errors.Is(s.mon.Disconnect(), ErrNotRunning)
	}, waitFor, tick)
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}
