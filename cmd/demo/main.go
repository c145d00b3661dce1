package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bitradius/memcache-helper/internal/config"
	"github.com/bitradius/memcache-helper/internal/domain"
	"github.com/bitradius/memcache-helper/internal/lookup"
	"github.com/bitradius/memcache-helper/pkg/cache"
	"github.com/bitradius/memcache-helper/pkg/logger"
	"github.com/bitradius/memcache-helper/pkg/metrics"
)

const (
	// Время на аккуратное завершение фоновых задач при выключении.
	shutdownTimeout = 10 * time.Second

	// Период фонового отчета о состоянии кэша в логах.
	statsInterval = 10 * time.Second
)

// App собирает все зависимости приложения в одном месте: так проще
// управлять порядком старта и остановки.
type App struct {
	config  *config.Config
	logger  *zap.Logger
	cache   *cache.Cache[string, domain.Document]
	metrics *metrics.Metrics
	source  *slowSource
	svc     *lookup.Service

	// Однократная инициализация.
	initOnce sync.Once
	initErr  error

	// Фоновые задачи: общий context отменяет их разом при выключении.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Shutdown выполняется только один раз.
	shutdownOnce sync.Once
}

// slowSource имитирует медленное внешнее хранилище документов.
// Каждый Load занимает настроенное время и считает обращения, чтобы в логах
// было видно, сколько запросов реально дошло до источника.
type slowSource struct {
	latency time.Duration
	calls   atomic.Int64
}

func (s *slowSource) Load(ctx context.Context, id string) (domain.Document, error) {
	s.calls.Add(1)

	select {
	case <-ctx.Done():
		return domain.Document{}, ctx.Err()
	case <-time.After(s.latency):
	}

	return domain.Document{
		ID:        id,
		Name:      fmt.Sprintf("Документ %s", id),
		Version:   1,
		CreatedAt: time.Now().UTC(),
		Items: []domain.Level1Item{
			{
				ID:   id + "-1",
				Name: "Раздел 1",
				Sort: 1,
				Items: []domain.Level2Item{
					{ID: id + "-1-1", Name: "Пункт 1.1", Data: map[string]any{"weight": 10}},
					{ID: id + "-1-2", Name: "Пункт 1.2", Data: map[string]any{"weight": 20}},
				},
			},
		},
	}, nil
}

// NewApp создает заготовку приложения; настройка происходит в Initialize().
func NewApp() *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize настраивает все компоненты. Если хоть один не поднялся,
// возвращается ошибка и приложение не стартует.
func (a *App) Initialize() error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize()
	})
	return a.initErr
}

// doInitialize собирает компоненты. Порядок важен: сначала базовые вещи
// (логгер, конфиг), потом слои (кэш -> метрики -> события -> бизнес-логика).
func (a *App) doInitialize() error {
	// 1. Логгер поднимаем первым: без него не увидим, на чем споткнулись.
	if err := logger.Init("info", true); err != nil {
		return fmt.Errorf("не удалось поднять логгер: %w", err)
	}
	a.logger = logger.Get()

	// 2. Загружаем настройки: путь из переменной окружения, иначе файл по
	// умолчанию рядом с бинарником.
	configPath := os.Getenv("APP_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Отсутствующий файл не фатален: остаются значения по умолчанию и ENV.
	if err := config.Load(configPath); err != nil {
		a.logger.Warn("конфиг-файл не прочитан, работаем на значениях по умолчанию и ENV",
			zap.Error(err),
		)
		if err := config.Load(""); err != nil {
			return fmt.Errorf("конфигурация не собралась даже из значений по умолчанию: %w", err)
		}
	}

	a.config = config.Get()

	// Перечитываем уровень логирования из конфига.
	if err := logger.Init(a.config.Log.Level, a.config.Log.Development); err != nil {
		return fmt.Errorf("не удалось перенастроить логгер: %w", err)
	}
	a.logger = logger.Get()

	a.logger.Info("настройки применены",
		zap.Int("cache_default_ttl_sec", a.config.Cache.DefaultTTL),
		zap.Int("cache_sweep_interval_sec", a.config.Cache.SweepInterval),
		zap.Int("lookup_max_concurrent", a.config.Lookup.MaxConcurrent),
	)

	// 3. Настраиваем кэш документов и запускаем его уборщика.
	a.cache = cache.New[string, domain.Document](
		a.config.Cache.TTL(),
		a.config.Cache.Sweep(),
		cache.WithLogger[string, domain.Document](a.logger.Named("cache")),
	)

	// 4. Экспортируем жизненный цикл кэша в Prometheus-коллекторы.
	a.metrics = metrics.Observe(a.cache, nil, a.config.Metrics.Namespace)

	// 5. Подписываемся на события кэша, чтобы каждый переход был виден в логах.
	a.subscribeEventLog()

	// 6. Собираем бизнес-логику поверх кэша и медленного источника.
	a.source = &slowSource{latency: a.config.Lookup.SourceLatency()}
	a.svc = lookup.NewService(a.cache, a.source, a.logger.Named("lookup"), a.config.Lookup.MaxConcurrent)

	a.logger.Info("все компоненты собраны")
	return nil
}

// subscribeEventLog вешает логирующие обработчики на все виды событий кэша.
func (a *App) subscribeEventLog() {
	log := a.logger.Named("events")

	a.cache.Subscribe(cache.EventSet, func(ev cache.Event[string, domain.Document]) {
		log.Info("запись", zap.String("ключ", ev.Key), zap.String("документ", ev.Value.Name))
	})
	a.cache.Subscribe(cache.EventExpired, func(ev cache.Event[string, domain.Document]) {
		log.Info("протухание", zap.String("ключ", ev.Key))
	})
	a.cache.Subscribe(cache.EventDel, func(ev cache.Event[string, domain.Document]) {
		log.Info("удаление", zap.String("ключ", ev.Key))
	})
	a.cache.Subscribe(cache.EventFlush, func(cache.Event[string, domain.Document]) {
		log.Info("полная очистка")
	})
	a.cache.Subscribe(cache.EventError, func(ev cache.Event[string, domain.Document]) {
		log.Warn("внутренняя ошибка кэша", zap.Error(ev.Err))
	})
}

// Start запускает фоновые задачи и демонстрационную нагрузку.
func (a *App) Start() error {
	if err := a.Initialize(); err != nil {
		return err
	}

	// Периодический отчет о состоянии кэша.
	a.wg.Add(1)
	go a.periodicStats()

	// Демонстрационная нагрузка крутится в фоне до остановки.
	a.wg.Add(1)
	go a.runWorkload()

	return nil
}

// periodicStats раз в statsInterval пишет в лог сводку по кэшу.
func (a *App) periodicStats() {
	defer a.wg.Done()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info("фоновый отчет остановлен")
			return
		case <-ticker.C:
			keys, err := a.cache.Keys()
			if err != nil {
				a.logger.Warn("не удалось перечислить ключи", zap.Error(err))
				continue
			}
			a.logger.Info("состояние кэша",
				zap.Int("записей_физически", a.cache.Len()),
				zap.Int("записей_живых", len(keys)),
				zap.Int64("обращений_к_источнику", a.source.calls.Load()),
			)
		}
	}
}

// runWorkload гоняет по кэшу показательный сценарий: запись, чтение,
// параллельные промахи, массовые операции, короткие TTL и инвалидация.
func (a *App) runWorkload() {
	defer a.wg.Done()

	// Один прогон сразу на старте, дальше по таймеру.
	a.workloadPass(1)

	pass := 2
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info("демонстрационная нагрузка остановлена")
			return
		case <-ticker.C:
			a.workloadPass(pass)
			pass++
		}
	}
}

func (a *App) workloadPass(pass int) {
	log := a.logger.Named("workload").With(zap.Int("проход", pass))
	ctx, cancel := context.WithTimeout(a.ctx, 25*time.Second)
	defer cancel()

	// 1. Прямая запись и чтение.
	doc := domain.Document{ID: fmt.Sprintf("manual-%d", pass), Name: "Ручной документ", Version: pass}
	if err := a.svc.StoreDocument(ctx, doc); err != nil {
		log.Error("ошибка записи", zap.Error(err))
		return
	}

	if got, err := a.svc.GetDocument(ctx, doc.ID); err == nil {
		log.Info("прочитан документ", zap.String("имя", got.Name))
	}

	// 2. Параллельный шторм промахов по одному ID: источник должен
	// отработать один раз на всех.
	stormID := fmt.Sprintf("storm-%d", pass)
	before := a.source.calls.Load()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := a.svc.GetDocument(gctx, stormID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("шторм завершился ошибкой", zap.Error(err))
	} else {
		log.Info("шторм промахов склеен",
			zap.Int64("обращений_к_источнику", a.source.calls.Load()-before),
		)
	}

	// 3. Массовые операции поверх низкоуровневого API.
	ids := []string{"bulk-a", "bulk-b", "bulk-c"}
	a.svc.WarmUp(ids)

	if found, err := a.cache.MGet("document:bulk-a", "document:bulk-b", "document:ghost"); err == nil {
		log.Info("массовое чтение", zap.Int("найдено", len(found)))
	}

	if keys, err := a.cache.Keys(); err == nil {
		log.Info("перечисление", zap.Strings("ключи", keys))
	}

	// 4. Короткоживущая запись: через пару секунд ее заберет уборщик и
	// пришлет событие протухания.
	ephemeral := domain.Document{ID: "ephemeral", Name: "Короткоживущий", Version: pass}
	if err := a.cache.SetTTL("document:ephemeral", ephemeral, 2*time.Second); err != nil {
		log.Error("ошибка записи с TTL", zap.Error(err))
	}

	// 5. Точечная и массовая инвалидация, изредка полная очистка.
	_ = a.svc.InvalidateDocument(doc.ID)
	_ = a.cache.MDel("document:bulk-a", "document:bulk-b", "document:bulk-c")
	if rand.Intn(4) == 0 {
		_ = a.svc.InvalidateAll()
	}
}

// Shutdown аккуратно останавливает приложение: сначала фон, потом кэш.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		a.logger.Info("останавливаем приложение...")

		// 1. Сигнал всем фоновым задачам остановиться.
		a.cancel()

		// 2. Ждем фоновые горутины, но не вечно.
		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			a.logger.Info("фоновые задачи завершились")
		case <-time.After(shutdownTimeout):
			a.logger.Warn("не дождались фоновых задач, выходим принудительно")
		}

		// 3. Дожидаемся фоновых прогревов бизнес-логики.
		if a.svc != nil {
			a.svc.Shutdown()
		}

		// 4. Снимаем метрики, чтобы gauge не читал мертвый кэш.
		if a.metrics != nil {
			a.metrics.Unregister()
		}

		// 5. Останавливаем уборщика и замораживаем кэш.
		if a.cache != nil {
			if err := a.cache.Close(); err != nil {
				a.logger.Error("ошибка при остановке кэша", zap.Error(err))
				shutdownErr = err
			}
		}

		a.logger.Info("приложение остановлено")

		// Сбрасываем буфер логов на диск.
		_ = logger.Sync()
	})

	return shutdownErr
}

func main() {
	app := NewApp()

	if err := app.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "не удалось запустить приложение: %v\n", err)
		os.Exit(1)
	}

	// Ждем сигнал завершения от ОС (Ctrl+C или docker stop).
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := app.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "ошибка при остановке: %v\n", err)
		os.Exit(1)
	}
}
