package db

import (
	"testing"

	"github.com/shinyyama/flora-backend/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestBuildDSN(t *testing.T) {
	base := config.Config{DBUser: "u", DBPassword: "p", DBName: "flora", DBPort: "3306"}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		want   string
	}{
		{
			name:   "plain host",
			mutate: func(c *config.Config) { c.DBHost = "db.local" },
			want:   "u:p@tcp(db.local:3306)/flora?charset=utf8mb4&parseTime=True&loc=Local",
		},
		{
			name:   "tcp prefix kept",
			mutate: func(c *config.Config) { c.DBHost = "tcp(10.0.0.1:3307)" },
			want:   "u:p@tcp(10.0.0.1:3307)/flora?charset=utf8mb4&parseTime=True&loc=Local",
		},
		{
			name:   "socket path",
			mutate: func(c *config.Config) { c.DBHost = "/var/run/mysqld.sock" },
			want:   "u:p@unix(/var/run/mysqld.sock)/flora?charset=utf8mb4&parseTime=True&loc=Local",
		},
		{
			name: "cloud sql instance",
			mutate: func(c *config.Config) {
				c.DBHost = "ignored"
				c.InstanceConnectionName = "proj:region:inst"
			},
			want: "u:p@unix(/cloudsql/proj:region:inst)/flora?charset=utf8mb4&parseTime=True&loc=Local",
		},
		{
			name: "postgres",
			mutate: func(c *config.Config) {
				c.DBDriver = "postgres"
				c.DBHost = "pg.local"
			},
			want: "host=pg.local port=5432 user=u password=p dbname=flora sslmode=disable TimeZone=UTC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Equal(t, tt.want, BuildDSN(&cfg))
		})
	}
}

func TestDialectorRejectsUnknownDriver(t *testing.T) {
	_, err := dialector(&config.Config{DBDriver: "oracle"})
	assert.Error(t, err)
}
