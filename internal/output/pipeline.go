package output

import "log"

// Mirror receives an unmodified copy of every output chunk, for remote
// control collaborators. Implementations must not block.
type Mirror interface {
	MirrorOutput(sessionID string, data []byte) error
}

// Pipeline applies the banner filter and then mirrors the original
// bytes. Mirror failures are cosmetic and only logged.
type Pipeline struct {
	sessionID string
	filter    *BannerFilter
	mirror    Mirror
}

func NewPipeline(sessionID string, filter *BannerFilter, mirror Mirror) *Pipeline {
	if filter == nil {
		filter = NewBannerFilter(nil)
	}
	return &Pipeline{sessionID: sessionID, filter: filter, mirror: mirror}
}

// Process transforms one chunk for the owner channel.
func (p *Pipeline) Process(data []byte) []byte {
	if p.mirror != nil {
		if err := p.mirror.MirrorOutput(p.sessionID, data); err != nil {
			log.Printf("output mirror error for session %s: %v", p.sessionID, err)
		}
	}
	return p.filter.Transform(data)
}

// Flush drains any bytes held back by the filter.
func (p *Pipeline) Flush() []byte {
	return p.filter.Flush()
}
