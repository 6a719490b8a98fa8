package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/siteguard/siteguard-core/internal/config"
)

type Client struct {
	DB *sql.DB
}

func dsnFrom(cfg config.DatabaseConfig) string {
	user := cfg.User
	if user == "" {
		user = "root"
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	dbName := cfg.Name
	if dbName == "" {
		dbName = "siteguard"
	}

	params := url.Values{}
	params.Set("parseTime", "true")
	if cfg.TLS {
		params.Set("tls", "preferred")
	}
	for k, v := range cfg.Params {
		params.Set(k, v)
	}
	auth := user
	if cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s", user, cfg.Password)
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", auth, host, port, dbName, params.Encode())
}

func Connect(cfg config.DatabaseConfig) (*Client, error) {
	db, err := sql.Open("mysql", dsnFrom(cfg))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	c := &Client{DB: db}
	if err := c.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Close() error { return c.DB.Close() }

func (c *Client) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS organizations (
			id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			plan VARCHAR(32) NOT NULL DEFAULT 'free',
			plan_expires_at TIMESTAMP NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id)
		)`,
		`CREATE TABLE IF NOT EXISTS sites (
			id VARCHAR(64) NOT NULL,
			organization_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			url VARCHAR(1024),
			health_score DOUBLE NOT NULL DEFAULT 0,
			contacts JSON,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			KEY idx_sites_org (organization_id),
			CONSTRAINT fk_sites_org FOREIGN KEY (organization_id) REFERENCES organizations (id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS checks (
			id VARCHAR(64) NOT NULL,
			organization_id VARCHAR(64) NOT NULL,
			site_id VARCHAR(64) NOT NULL,
			agent_id VARCHAR(64),
			type VARCHAR(64) NOT NULL,
			schedule VARCHAR(128),
			config JSON,
			weight INT NOT NULL DEFAULT 1,
			enabled TINYINT(1) NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			KEY idx_checks_site (site_id),
			KEY idx_checks_agent (agent_id),
			CONSTRAINT fk_checks_site FOREIGN KEY (site_id) REFERENCES sites (id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS check_results (
			id VARCHAR(64) NOT NULL,
			check_id VARCHAR(64) NOT NULL,
			organization_id VARCHAR(64) NOT NULL,
			site_id VARCHAR(64) NOT NULL,
			agent_id VARCHAR(64),
			status VARCHAR(16) NOT NULL,
			score INT NOT NULL DEFAULT 0,
			message TEXT,
			details JSON,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			retry_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP(3) DEFAULT CURRENT_TIMESTAMP(3),
			PRIMARY KEY (id),
			KEY idx_results_check (check_id, created_at),
			KEY idx_results_site (site_id, created_at),
			CONSTRAINT fk_results_check FOREIGN KEY (check_id) REFERENCES checks (id) ON DELETE CASCADE,
			CONSTRAINT fk_results_site FOREIGN KEY (site_id) REFERENCES sites (id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id VARCHAR(64) NOT NULL,
			organization_id VARCHAR(64) NOT NULL,
			site_id VARCHAR(64) NOT NULL,
			check_result_id VARCHAR(64) NOT NULL,
			severity VARCHAR(16) NOT NULL,
			message TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			KEY idx_alerts_site (site_id, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS notification_channels (
			id VARCHAR(64) NOT NULL,
			organization_id VARCHAR(64) NOT NULL,
			type VARCHAR(32) NOT NULL,
			config JSON,
			enabled TINYINT(1) NOT NULL DEFAULT 1,
			PRIMARY KEY (id),
			KEY idx_channels_org (organization_id)
		)`,
		`CREATE TABLE IF NOT EXISTS escalation_issues (
			id VARCHAR(64) NOT NULL,
			site_id VARCHAR(64) NOT NULL,
			organization_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			current_level INT NOT NULL DEFAULT 1,
			levels JSON,
			reports JSON,
			level_started_at TIMESTAMP(3) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			resolved_at TIMESTAMP NULL,
			PRIMARY KEY (id),
			KEY idx_issues_site (site_id, status)
		)`,
		`CREATE TABLE IF NOT EXISTS issue_tokens (
			token VARCHAR(128) NOT NULL,
			issue_id VARCHAR(64) NOT NULL,
			level INT NOT NULL,
			PRIMARY KEY (token),
			KEY idx_tokens_issue (issue_id),
			CONSTRAINT fk_tokens_issue FOREIGN KEY (issue_id) REFERENCES escalation_issues (id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(64) NOT NULL,
			organization_id VARCHAR(64) NOT NULL,
			name VARCHAR(255),
			api_key VARCHAR(128) NOT NULL,
			last_seen_at TIMESTAMP NULL,
			metadata JSON,
			PRIMARY KEY (id),
			UNIQUE KEY uq_agents_key (api_key)
		)`,
	}
	for _, s := range stmts {
		if _, err := c.DB.Exec(s); err != nil {
			return fmt.Errorf("ensure schema failed: %s: %w", strings.SplitN(s, "(", 2)[0], err)
		}
	}
	return nil
}
