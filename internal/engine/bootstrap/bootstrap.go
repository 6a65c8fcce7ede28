// Copyright 2025 Forge Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"

	"github.com/forge-ci/forge/internal/engine/conf"
	"github.com/forge-ci/forge/internal/engine/control"
	englock "github.com/forge-ci/forge/internal/engine/control/lock"
	"github.com/forge-ci/forge/internal/engine/dispatch"
	"github.com/forge-ci/forge/internal/engine/model/event"
	"github.com/forge-ci/forge/internal/engine/quality"
	"github.com/forge-ci/forge/internal/engine/repo"
	"github.com/forge-ci/forge/internal/engine/service"
	"github.com/forge-ci/forge/pkg/cache"
	"github.com/forge-ci/forge/pkg/log"
	"github.com/forge-ci/forge/pkg/orm"
	"github.com/forge-ci/forge/pkg/safe"
)

// App 引擎节点的全部运行组件
type App struct {
	Facade     *service.PipelineBuildFacade
	Consumer   *dispatch.Consumer
	Dispatcher *dispatch.AsynqDispatcher
	AppConf    conf.AppConfig
}

// Bootstrap 装配引擎:基础设施 -> 仓储 -> 服务 -> 控制器 ->
// 事件订阅。返回 App 与清理函数。
func Bootstrap(configFile string, executor control.AtomExecutor) (*App, func(), error) {
	appConf := conf.NewConf(configFile)

	if _, err := log.NewLog(&appConf.Log); err != nil {
		return nil, nil, err
	}

	redisClient, err := cache.NewRedis(appConf.Redis)
	if err != nil {
		return nil, nil, err
	}
	db, err := orm.NewDatabase(appConf.Database)
	if err != nil {
		return nil, nil, err
	}

	buildRepo := repo.NewBuildRepo(db)
	summaryRepo := repo.NewBuildSummaryRepo(db)
	detailRepo := repo.NewBuildDetailRepo(db)
	stageRepo := repo.NewBuildStageRepo(db)
	containerRepo := repo.NewBuildContainerRepo(db)
	taskRepo := repo.NewBuildTaskRepo(db)
	varRepo := repo.NewBuildVariableRepo(db)
	settingRepo := repo.NewPipelineSettingRepo(db)

	runtime := service.NewBuildRuntimeService(
		buildRepo, summaryRepo, detailRepo, stageRepo, containerRepo, taskRepo, settingRepo)
	detail := service.NewBuildDetailService(buildRepo, detailRepo, stageRepo)
	vars := service.NewBuildVariableService(varRepo)
	tasks := service.NewBuildTaskService(taskRepo, redisClient)
	printer := service.NewEngineLogPrinter()

	var scm control.ScmResolver
	if appConf.Engine.ScmBaseURL != "" {
		scm = service.NewScmService(appConf.Engine.ScmBaseURL)
	}

	var gate control.QualityChecker
	if len(appConf.Engine.QualityRules) > 0 {
		gate = quality.NewGate(
			quality.NewStaticRuleStore(appConf.Engine.QualityRules),
			quality.NewVariableMetrics(vars))
	}

	locks := englock.NewRedisFactory(redisClient)
	dispatcher := dispatch.NewAsynqDispatcher(redisClient)
	mutex := control.NewMutexControl(redisClient)

	startControl := control.NewBuildStartControl(locks, runtime, detail, vars, scm, dispatcher)
	stageControl := control.NewStageControl(locks, runtime, detail, stageRepo, gate, dispatcher)
	containerControl := control.NewContainerControl(
		locks, runtime, detail, containerRepo, tasks, vars, mutex, dispatcher)
	taskControl := control.NewTaskControl(locks, runtime, tasks, detail, vars, executor, printer, dispatcher)
	cancelControl := control.NewBuildCancelControl(
		locks, runtime, detail, tasks, containerRepo, mutex, dispatcher)
	finishControl := control.NewBuildFinishControl(locks, runtime, detail, tasks, dispatcher)

	consumer := dispatch.NewConsumer(redisClient, &dispatch.ConsumerConfig{
		Concurrency: appConf.Engine.Concurrency,
		Queues:      appConf.Engine.Queues,
	})
	registerHandlers(consumer, startControl, stageControl, containerControl, taskControl, cancelControl, finishControl)

	facade := service.NewPipelineBuildFacade(runtime, detail, vars, dispatcher)

	cleanup := func() {
		consumer.Shutdown()
		if err := dispatcher.Close(); err != nil {
			log.Warnw("close dispatcher failed", "error", err)
		}
	}

	return &App{
		Facade:     facade,
		Consumer:   consumer,
		Dispatcher: dispatcher,
		AppConf:    appConf,
	}, cleanup, nil
}

func registerHandlers(
	consumer *dispatch.Consumer,
	startControl *control.BuildStartControl,
	stageControl *control.StageControl,
	containerControl *control.ContainerControl,
	taskControl *control.TaskControl,
	cancelControl *control.BuildCancelControl,
	finishControl *control.BuildFinishControl,
) {
	consumer.RegisterHandler(event.KindBuildStart, func(ctx context.Context, payload []byte) error {
		var e event.BuildStartEvent
		if err := sonic.Unmarshal(payload, &e); err != nil {
			return err
		}
		return startControl.Handle(ctx, &e)
	})
	consumer.RegisterHandler(event.KindBuildStage, func(ctx context.Context, payload []byte) error {
		var e event.BuildStageEvent
		if err := sonic.Unmarshal(payload, &e); err != nil {
			return err
		}
		return stageControl.Handle(ctx, &e)
	})
	consumer.RegisterHandler(event.KindBuildContainer, func(ctx context.Context, payload []byte) error {
		var e event.BuildContainerEvent
		if err := sonic.Unmarshal(payload, &e); err != nil {
			return err
		}
		return containerControl.Handle(ctx, &e)
	})
	consumer.RegisterHandler(event.KindAtomTask, func(ctx context.Context, payload []byte) error {
		var e event.AtomTaskEvent
		if err := sonic.Unmarshal(payload, &e); err != nil {
			return err
		}
		return taskControl.Handle(ctx, &e)
	})
	consumer.RegisterHandler(event.KindBuildCancel, func(ctx context.Context, payload []byte) error {
		var e event.BuildCancelEvent
		if err := sonic.Unmarshal(payload, &e); err != nil {
			return err
		}
		return cancelControl.Handle(ctx, &e)
	})
	consumer.RegisterHandler(event.KindBuildFinish, func(ctx context.Context, payload []byte) error {
		var e event.BuildFinishEvent
		if err := sonic.Unmarshal(payload, &e); err != nil {
			return err
		}
		return finishControl.Handle(ctx, &e)
	})
}

// Run 启动消费并阻塞到退出信号
func Run(app *App, cleanup func()) {
	defer cleanup()

	safe.Go(func() {
		if err := app.Consumer.Run(); err != nil {
			log.Fatalf("run consumer: %v", err)
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down engine")
}
