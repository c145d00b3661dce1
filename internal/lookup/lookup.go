package lookup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bitradius/memcache-helper/internal/domain"
	"github.com/bitradius/memcache-helper/pkg/cache"
)

// Кэш документов удовлетворяет доменному интерфейсу.
var _ domain.DocumentCache = (*cache.Cache[string, domain.Document])(nil)

// Service отвечает за бизнес-логику работы с документами.
// Он связывает воедино кэш и внешний источник. Главные задачи:
// 1. Кэширование "горячих" документов (Cache-Aside через Fetch).
// 2. Контроль нагрузки на источник (Rate Limiting).
// 3. Фоновый прогрев кэша.
type Service struct {
	cache  domain.DocumentCache
	source domain.DocumentSource
	logger *zap.Logger

	// Конкурентность: фоновые прогревы и лимит обращений к источнику
	wg          sync.WaitGroup
	rateLimiter *RateLimiter
}

// RateLimiter — семафорный ограничитель одновременных обращений к источнику.
// Больше maxConcurrent операций разом он не пропустит.
type RateLimiter struct {
	semaphore     chan struct{}
	maxConcurrent int
}

// NewRateLimiter создает ограничитель на maxConcurrent одновременных операций.
func NewRateLimiter(maxConcurrent int) *RateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 10
	}
	return &RateLimiter{
		semaphore:     make(chan struct{}, maxConcurrent),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire ждет свободный слот. Если контекст отменяется раньше, чем слот
// освободится — возвращает его ошибку.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case rl.semaphore <- struct{}{}:
		return nil
	}
}

// Release возвращает слот обратно.
func (rl *RateLimiter) Release() {
	select {
	case <-rl.semaphore:
	default:
		// Лишний Release не должен ронять процесс
	}
}

// NewService создает сервис поверх кэша и источника.
func NewService(
	c domain.DocumentCache,
	source domain.DocumentSource,
	logger *zap.Logger,
	maxConcurrent int,
) *Service {
	return &Service{
		cache:       c,
		source:      source,
		logger:      logger,
		rateLimiter: NewRateLimiter(maxConcurrent),
	}
}

func cacheKey(id string) string {
	return fmt.Sprintf("document:%s", id)
}

// GetDocument возвращает документ по его ID.
// Схема классическая, Cache-Aside:
// 1. Смотрим в кэш; попадание сразу уходит наверх.
// 2. На промахе идем в источник, параллельные промахи по одному ID
//    склеиваются в один запрос.
// 3. Результат кладем в кэш с TTL по умолчанию.
func (s *Service) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	if err := s.rateLimiter.Acquire(ctx); err != nil {
		return domain.Document{}, fmt.Errorf("лимит одновременных запросов исчерпан: %w", err)
	}
	defer s.rateLimiter.Release()

	return s.cache.Fetch(cacheKey(id), func() (domain.Document, error) {
		s.logger.Debug("промах кэша, идем в источник", zap.String("id", id))

		doc, err := s.source.Load(ctx, id)
		if err != nil {
			s.logger.Error("не удалось получить документ из источника",
				zap.String("id", id),
				zap.Error(err),
			)
			return domain.Document{}, err
		}
		return doc, nil
	})
}

// StoreDocument сохраняет документ напрямую в кэш (write-through без базы).
func (s *Service) StoreDocument(ctx context.Context, doc domain.Document) error {
	if err := s.rateLimiter.Acquire(ctx); err != nil {
		return fmt.Errorf("лимит одновременных запросов исчерпан: %w", err)
	}
	defer s.rateLimiter.Release()

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	if err := s.cache.Set(cacheKey(doc.ID), doc); err != nil {
		s.logger.Error("ошибка записи в кэш",
			zap.String("id", doc.ID),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("документ сохранен",
		zap.String("id", doc.ID),
		zap.String("name", doc.Name),
	)
	return nil
}

// InvalidateDocument удаляет документ из кэша, чтобы при следующем запросе
// данные перечитались из источника.
func (s *Service) InvalidateDocument(id string) error {
	if err := s.cache.Del(cacheKey(id)); err != nil {
		s.logger.Warn("не удалось очистить кэш",
			zap.String("id", id),
			zap.Error(err),
		)
		return err
	}
	s.logger.Info("документ инвалидирован", zap.String("id", id))
	return nil
}

// InvalidateAll полностью очищает кэш документов.
func (s *Service) InvalidateAll() error {
	return s.cache.Flush()
}

// CachedIDs возвращает отсортированный список ключей, живущих в кэше.
func (s *Service) CachedIDs() ([]string, error) {
	return s.cache.Keys()
}

// WarmUp асинхронно прогревает кэш списком известных ID.
// Каждый прогрев идет через обычный GetDocument, так что лимиты нагрузки
// соблюдаются и здесь.
func (s *Service) WarmUp(ids []string) {
	for _, id := range ids {
		id := id
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			// Короткий таймаут: прогрев не критичен
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if _, err := s.GetDocument(ctx, id); err != nil {
				s.logger.Warn("не удалось прогреть документ",
					zap.String("id", id),
					zap.Error(err),
				)
			}
		}()
	}
}

// Shutdown дожидается завершения фоновых прогревов.
func (s *Service) Shutdown() {
	s.wg.Wait()
	s.logger.Info("сервис документов остановлен")
}
