package authflow

import (
	"github.com/charmbracelet/log"
)

// Popup is the authorization window's side of the handshake.
type Popup struct {
	markers   *Markers
	broadcast *Broadcast
	logger    *log.Logger
}

// NewPopup creates a [Popup] publishing to origin over store and bus.
func NewPopup(store Store, bus Bus, origin string, logger *log.Logger) *Popup {
	logger = orDiscard(logger)
	return &Popup{
		markers:   NewMarkers(store, logger),
		broadcast: NewBroadcast(store, bus, origin, logger),
		logger:    logger,
	}
}

// Report publishes the outcome of the OAuth callback for the pending session.
//
// A nil err is a success. Without a pending marker the outcome is published with no id.
func (p *Popup) Report(err error) {
	outcome := Success()
	if err != nil {
		outcome = Failure(err.Error())
	}

	session, ok := p.markers.Pending()
	if !ok {
		p.logger.Warn("No pending Spotify auth session, publishing without id")
	}
	p.broadcast.Publish(session.ID, outcome)
}
