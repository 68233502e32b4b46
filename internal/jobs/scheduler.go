// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: проверка просроченных сделок
// и очистка устаревших состояний в памяти.
package jobs

import (
	"context"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
)

// Расписание очистки состояний в памяти.
const purgeSpec = "*/5 * * * *"

// DeadlineSweeper — проверка сделок, у которых истёк срок.
type DeadlineSweeper interface {
	SweepOverdue(ctx context.Context) (int, error)
}

// Purger удаляет устаревшие записи и возвращает их число.
type Purger struct {
	Name  string
	Purge func() int
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron      *cron.Cron
	sweeper   DeadlineSweeper
	sweepSpec string
	purgers   []Purger
}

// NewScheduler создаёт планировщик в часовом поясе бота.
func NewScheduler(sweeper DeadlineSweeper, sweepSpec string, purgers ...Purger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(common.Location)),
		sweeper:   sweeper,
		sweepSpec: sweepSpec,
		purgers:   purgers,
	}
}

// Start регистрирует задачи и запускает планировщик.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.sweepSpec, func() { s.sweep(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(purgeSpec, s.purge); err != nil {
		return err
	}

	s.cron.Start()
	log.WithField("sweep", s.sweepSpec).Infof("Планировщик задач запущен (%s)", common.Location)
	return nil
}

// Stop останавливает планировщик и ждёт завершения текущих задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

func (s *Scheduler) sweep(ctx context.Context) {
	log.Debug("[CRON] Проверка сроков сделок")
	n, err := s.sweeper.SweepOverdue(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка проверки сроков")
		return
	}
	if n > 0 {
		log.WithField("count", n).Info("[CRON] Просроченные сделки переданы модераторам")
	}
}

func (s *Scheduler) purge() {
	for _, p := range s.purgers {
		if n := p.Purge(); n > 0 {
			log.WithField("job", p.Name).WithField("count", n).Debug("[CRON] Очищены устаревшие записи")
		}
	}
}
