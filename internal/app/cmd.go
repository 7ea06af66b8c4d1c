package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバー（JSON API、SSE配信、/metrics）を起動する。
	CommandServe Command = "serve"
	// CommandWorker はリマインダー送信とクリーンアップを行うワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを操作する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// MigrateAction はmigrateサブコマンドの操作。
type MigrateAction string

const (
	MigrateUp      MigrateAction = "up"
	MigrateDown    MigrateAction = "down"
	MigrateVersion MigrateAction = "version"
)

// Invocation は解析済みのコマンドライン。
type Invocation struct {
	Command Command
	// Migrate はCommandMigrateのときのみ意味を持つ。
	Migrate MigrateAction
}

// Usage はサブコマンドの一覧。
const Usage = `usage: duoflow [command]

commands:
  serve                  start the API server (default)
  worker                 run the reminder sweep and cleanup jobs
  migrate [up|down|version]
                         apply, roll back one step, or show the schema version
  healthcheck            check the local /health endpoint`

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はserveとして扱う。未知のサブコマンドはエラーにする。
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}

	switch Command(args[0]) {
	case CommandServe, CommandWorker, CommandHealthcheck:
		return Invocation{Command: Command(args[0])}, nil
	case CommandMigrate:
		action, err := parseMigrateAction(args[1:])
		if err != nil {
			return Invocation{}, err
		}
		return Invocation{Command: CommandMigrate, Migrate: action}, nil
	default:
		return Invocation{}, fmt.Errorf("unknown command %q\n%s", args[0], Usage)
	}
}

func parseMigrateAction(args []string) (MigrateAction, error) {
	if len(args) == 0 {
		return MigrateUp, nil
	}
	switch a := MigrateAction(strings.ToLower(args[0])); a {
	case MigrateUp, MigrateDown, MigrateVersion:
		return a, nil
	default:
		return "", fmt.Errorf("unknown migrate action %q (want up, down or version)", args[0])
	}
}
