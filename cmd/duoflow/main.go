// Command duoflow は2人用タスク管理アプリのAPIサーバー、ワーカー、マイグレーションを起動する。
//
// 使い方:
//
//	duoflow [serve|worker|migrate [up|down|version]|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/duoflow/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "duoflow: %v\n", err)
		os.Exit(1)
	}
}
