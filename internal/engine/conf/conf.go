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

package conf

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/forge-ci/forge/internal/engine/quality"
	"github.com/forge-ci/forge/pkg/cache"
	"github.com/forge-ci/forge/pkg/log"
	"github.com/forge-ci/forge/pkg/orm"
)

// EngineConfig 引擎节点配置
type EngineConfig struct {
	// Concurrency 事件消费并发数
	Concurrency int
	// Queues 队列名 -> 优先级权重
	Queues map[string]int
	// ScmBaseURL 代码服务地址,空则不做 revision 补全
	ScmBaseURL string
	// QualityRules 红线规则集,空则不做红线校验
	QualityRules []quality.Rule
}

type AppConfig struct {
	Log      log.Conf
	Database orm.Database
	Redis    cache.Redis
	Engine   EngineConfig
}

var (
	cfg  AppConfig
	once sync.Once
)

func NewConf(confFile string) AppConfig {
	once.Do(func() {
		var err error
		cfg, err = LoadConfigFile(confFile)
		if err != nil {
			panic(fmt.Sprintf("load conf file error: %s", err))
		}
	})
	return cfg
}

// LoadConfigFile 读取 TOML 配置,文件变化时热加载
func LoadConfigFile(confFile string) (AppConfig, error) {
	config := viper.New()
	config.SetConfigFile(confFile)
	config.AddConfigPath("./conf.d")
	config.SetConfigName("config")
	config.SetConfigType("toml")
	if err := config.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read configuration file: %v", err)
	}

	config.WatchConfig()
	config.OnConfigChange(func(e fsnotify.Event) {
		log.Infof("configuration changed, reloading: %s", e.Name)
		if err := config.Unmarshal(&cfg); err != nil {
			log.Errorf("failed to unmarshal configuration file: %v", err)
		}
	})
	if err := config.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal configuration file: %v", err)
	}
	return cfg, nil
}
