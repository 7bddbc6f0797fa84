package connection

import (
	"context"

	"github.com/erdlink/erdlink-go/pkg/appliance"
	"github.com/erdlink/erdlink-go/pkg/auth"
)

// Authenticator obtains and renews credentials.
type Authenticator interface {
	// FullLogin authenticates from scratch.
	FullLogin(ctx context.Context) (auth.Credentials, error)

	// RefreshLogin renews current. Any error aborts the reconnect loop.
	RefreshLogin(ctx context.Context, current auth.Credentials) (auth.Credentials, error)
}

// Transport runs the device connection.
type Transport interface {
	// Drive connects with creds and blocks until the connection ends. It
	// calls link.SetConnected once the connection is live and reports
	// appliance changes through link. Drive must return when ctx is
	// cancelled or Teardown is called.
	Drive(ctx context.Context, creds auth.Credentials, link Link) error

	// Teardown closes the connection. It may be called at any time,
	// including when nothing is connected.
	Teardown()
}

// Link is the supervisor surface a Transport reports through.
type Link interface {
	// SetConnected confirms the connection and restarts the retry budget.
	SetConnected()

	// SessionID identifies the session in protocol captures.
	SessionID() string

	// Appliance returns the appliance with id, creating it on first use.
	Appliance(id string) *appliance.Appliance

	// ApplianceUpdated applies attribute changes to a.
	ApplianceUpdated(a *appliance.Appliance, changes map[string]string)

	// SetApplianceAvailability records whether a is reachable.
	SetApplianceAvailability(a *appliance.Appliance, available bool)
}
