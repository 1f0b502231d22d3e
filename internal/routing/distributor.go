package routing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/conversia/backend/internal/models"
)

// QueueStore is the slice of the store the distributor reads.
type QueueStore interface {
	ListQueues(ctx context.Context) ([]models.Queue, error)
	QueuedConversations(ctx context.Context, queueID string) ([]models.Conversation, error)
	ActiveCount(ctx context.Context, advisorID string) (int, error)
	ClaimDayFlag(ctx context.Context, queueID string, day time.Time) (bool, error)
}

// Presence answers whether an advisor may receive new conversations.
type Presence interface {
	Receiving(ctx context.Context, advisorID string) (bool, error)
}

type DistributorConfig struct {
	// First-advisor-of-day window, hours in Location time.
	BusinessHoursStart int
	BusinessHoursEnd   int
	Location           *time.Location
}

// Distributor periodically sweeps every queue and hands unassigned queued
// conversations to eligible advisors, oldest first. Assignments go through
// the transition protocol, so a conversation accepted or claimed mid-sweep is
// simply skipped by the losing write.
type Distributor struct {
	*runner

	cfg      DistributorConfig
	queues   QueueStore
	ops      *Operations
	tracker  *RoundRobinTracker
	presence Presence
	log      zerolog.Logger

	now func() time.Time
}

func NewDistributor(cfg DistributorConfig, queues QueueStore, ops *Operations, tracker *RoundRobinTracker, presence Presence, logger zerolog.Logger) *Distributor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	d := &Distributor{
		cfg:      cfg,
		queues:   queues,
		ops:      ops,
		tracker:  tracker,
		presence: presence,
		log:      logger.With().Str("component", "distributor").Logger(),
		now:      time.Now,
	}
	d.runner = newRunner("distributor", logger, d.runCycle)
	return d
}

// runCycle executes one distribution pass over all queues. Per-queue and
// per-conversation failures are logged and skipped so one bad record cannot
// starve the rest.
func (d *Distributor) runCycle(ctx context.Context) {
	queues, err := d.queues.ListQueues(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("listing queues failed, retrying next tick")
		return
	}
	for _, q := range queues {
		if q.Distribution == models.DistributionManual {
			continue
		}
		if err := d.distributeQueue(ctx, q); err != nil {
			d.log.Error().Err(err).Str("queue_id", q.ID).Msg("queue distribution failed")
		}
	}
}

func (d *Distributor) distributeQueue(ctx context.Context, q models.Queue) error {
	chats, err := d.queues.QueuedConversations(ctx, q.ID)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		return nil
	}

	eligible := d.eligibleAdvisors(ctx, q)
	if len(eligible) == 0 {
		d.log.Info().Str("queue_id", q.ID).Int("queued", len(chats)).Msg("no eligible advisors, conversations stay queued")
		return nil
	}

	// First eligible advisor inside business hours gets the whole backlog
	// once per day, so the earliest colleague online does not idle while the
	// queue waits for the rest of the team.
	if d.insideBusinessHours() {
		first, err := d.queues.ClaimDayFlag(ctx, q.ID, d.now().In(d.cfg.Location))
		if err != nil {
			d.log.Warn().Err(err).Str("queue_id", q.ID).Msg("day flag claim failed")
		} else if first && len(eligible) == 1 {
			d.log.Info().Str("queue_id", q.ID).Str("advisor_id", eligible[0]).Int("count", len(chats)).
				Msg("first advisor of day, assigning full backlog")
			for _, c := range chats {
				d.assign(ctx, c, eligible[0])
			}
			return nil
		}
	}

	switch q.Distribution {
	case models.DistributionLeastBusy:
		d.distributeLeastBusy(ctx, q, chats, eligible)
	default:
		d.distributeRoundRobin(ctx, q, chats, eligible)
	}
	return nil
}

func (d *Distributor) eligibleAdvisors(ctx context.Context, q models.Queue) []string {
	var out []string
	for _, a := range q.AssignableAdvisors() {
		receiving, err := d.presence.Receiving(ctx, a)
		if err != nil {
			d.log.Warn().Err(err).Str("advisor_id", a).Msg("presence lookup failed, treating as unavailable")
			continue
		}
		if receiving {
			out = append(out, a)
		}
	}
	return out
}

// distributeLeastBusy recomputes live workloads for every conversation so
// advisors accepting chats mid-sweep are accounted for. Ties go to the
// advisor listed first on the queue.
func (d *Distributor) distributeLeastBusy(ctx context.Context, q models.Queue, chats []models.Conversation, eligible []string) {
	for _, c := range chats {
		best := ""
		bestLoad := 0
		for _, a := range eligible {
			n, err := d.queues.ActiveCount(ctx, a)
			if err != nil {
				d.log.Warn().Err(err).Str("advisor_id", a).Msg("workload count failed")
				continue
			}
			if best == "" || n < bestLoad {
				best, bestLoad = a, n
			}
		}
		if best == "" {
			d.log.Warn().Str("queue_id", q.ID).Msg("no workload counts available, skipping cycle remainder")
			return
		}
		d.assign(ctx, c, best)
	}
}

// distributeRoundRobin advances a single persisted cursor across the whole
// batch, so no advisor receives two consecutive conversations in one cycle
// unless they are the only one eligible.
func (d *Distributor) distributeRoundRobin(ctx context.Context, q models.Queue, chats []models.Conversation, eligible []string) {
	for _, c := range chats {
		advisor, err := d.tracker.NextAdvisor(ctx, q.ID, eligible)
		if err != nil {
			d.log.Error().Err(err).Str("queue_id", q.ID).Msg("round-robin cursor failed")
			return
		}
		d.assign(ctx, c, advisor)
	}
}

func (d *Distributor) assign(ctx context.Context, c models.Conversation, advisorID string) {
	applied, err := d.ops.Assign(ctx, c.ID, advisorID, ActorDistributor)
	if err != nil {
		d.log.Error().Err(err).Str("conversation_id", c.ID).Msg("assign failed")
		return
	}
	if !applied {
		d.log.Debug().Str("conversation_id", c.ID).Msg("lost race, conversation no longer assignable")
	}
}

func (d *Distributor) insideBusinessHours() bool {
	h := d.now().In(d.cfg.Location).Hour()
	return h >= d.cfg.BusinessHoursStart && h < d.cfg.BusinessHoursEnd
}
