/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"fmt"

	"github.com/jhc920403/inflearn-data-jpa/utils"
)

// OpenDatabase creates, connects and optionally migrates a database. The
// DB_* and session variables of the environment override cfg, and
// cfg.LogLevel, when set, becomes the level of every named logger.
func OpenDatabase(ctx context.Context, cfg *Config, registry ModelRegistry) (*BaseDatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	if cfg.LogLevel != "" {
		utils.ConfigureLogLevel(cfg.LogLevel)
	}
	OverrideSessionFromEnv(&cfg.SessionConfig)
	if err := cfg.SessionConfig.Validate(); err != nil {
		return nil, err
	}
	factory := NewDatabaseFactory()
	if _, err := factory.CreateFromConfig(&cfg.ConnectionConfig); err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}
	if err := factory.InitializeDatabase(ctx, registry, &cfg.DataMigrateConfig); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return factory, nil
}
