package interactive

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/erdlink/erdlink-go/pkg/appliance"
	"github.com/erdlink/erdlink-go/pkg/connection"
)

type stubSession struct {
	registry     *appliance.Registry
	disconnected bool
}

func (s *stubSession) State() connection.State { return connection.StateConnected }
func (s *stubSession) Retries() int { return -1 }
func (s *stubSession) SessionID() string { return "session-1" }
func (s *stubSession) UserID() (string, error) { return "user-42", nil }
func (s *stubSession) Appliances() *appliance.Registry { return s.registry }
func (s *stubSession) Disconnect() { s.disconnected = true }

type stubCommander struct{ mock.Mock }

func (c *stubCommander) SetValue(ctx context.Context, applianceID, attr, value string) error {
	return c.Called(applianceID, attr, value).Error(0)
}

func (c *stubCommander) RequestUpdate(ctx context.Context, applianceID string) error {
	return c.Called(applianceID).Error(0)
}

func newTestConsole(t *testing.T) (*Console, *stubSession, *stubCommander, *bytes.Buffer) {
	t.Helper()

	registry := appliance.NewRegistry()
	a, _ := registry.GetOrCreate("D828C9000001")
	a.SetAvailable(true)
	a.Update(map[string]string{appliance.AttrApplianceType: "15", "0x5100": "00"})

	session := &stubSession{registry: registry}
	cmd := &stubCommander{}
	t.Cleanup(func() { cmd.AssertExpectations(t) })

	var out bytes.Buffer
	c := &Console{out: &out}
	c.Attach(session, cmd, nil)
	return c, session, cmd, &out
}

func TestExecuteStatus(t *testing.T) {
	c, _, _, out := newTestConsole(t)

	assert.False(t, c.Execute(context.Background(), "status"))
	assert.Contains(t, out.String(), "State:      CONNECTED")
	assert.Contains(t, out.String(), "User:       user-42")
	assert.Contains(t, out.String(), "Appliances: 1")
}

func TestExecuteAppliances(t *testing.T) {
	c, _, _, out := newTestConsole(t)

	c.Execute(context.Background(), "ls")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "D828C9000001")
	assert.Contains(t, lines[1], "15")
	assert.Contains(t, lines[1], "true")
}

func TestExecuteShow(t *testing.T) {
	c, _, _, out := newTestConsole(t)

	c.Execute(context.Background(), "show D828C9000001")
	assert.Equal(t, "0x0008 = 15\n0x5100 = 00\n", out.String())

	out.Reset()
	c.Execute(context.Background(), "show nope")
	assert.Equal(t, "Unknown appliance: nope\n", out.String())
}

func TestExecuteSet(t *testing.T) {
	c, _, cmd, out := newTestConsole(t)

	cmd.On("SetValue", "D828C9000001", "0x5100", "01").Return(nil).Once()
	c.Execute(context.Background(), "set D828C9000001 0x5100 01")
	assert.Contains(t, out.String(), "Sent 0x5100=01 to D828C9000001")

	out.Reset()
	cmd.On("SetValue", "D828C9000001", "0x5100", "02").Return(errors.New("not connected")).Once()
	c.Execute(context.Background(), "set D828C9000001 0x5100 02")
	assert.Equal(t, "Error: not connected\n", out.String())

	out.Reset()
	c.Execute(context.Background(), "set D828C9000001")
	assert.Equal(t, "Usage: set <id> <attr> <value>\n", out.String())
}

func TestExecuteRefresh(t *testing.T) {
	c, _, cmd, out := newTestConsole(t)

	cmd.On("RequestUpdate", "D828C9000001").Return(nil).Once()
	c.Execute(context.Background(), "refresh D828C9000001")
	assert.Contains(t, out.String(), "Requested update for D828C9000001")
}

func TestExecuteSessionCommands(t *testing.T) {
	c, session, _, out := newTestConsole(t)

	assert.False(t, c.Execute(context.Background(), ""))
	assert.False(t, c.Execute(context.Background(), "disconnect"))
	assert.True(t, session.disconnected)

	assert.False(t, c.Execute(context.Background(), "frobnicate"))
	assert.Contains(t, out.String(), "Unknown command: frobnicate")

	for _, cmd := range []string{"quit", "exit", "q", "QUIT"} {
		assert.True(t, c.Execute(context.Background(), cmd), cmd)
	}
}

func TestAttachPrintsBusEvents(t *testing.T) {
	var out bytes.Buffer
	c := &Console{out: &out}
	bus := connection.NewBus(nil)
	c.Attach(&stubSession{registry: appliance.NewRegistry()}, &stubCommander{}, bus)

	a := appliance.New("A1")
	bus.Publish(connection.ConnectedEvent())
	bus.Wait()
	bus.Publish(connection.ApplianceAvailabilityEvent(a, false))
	bus.Wait()

	assert.Equal(t, "[connected]\n[appliance] A1 offline\n", out.String())
}
