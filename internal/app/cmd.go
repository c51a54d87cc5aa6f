package app

// Command はアプリケーションの起動モードを表す。
// 同一バイナリをserve/worker/migrate/healthcheckの4モードで起動できる。
type Command string

const (
	// CommandServe はAPIサーバーを起動する既定のモード。
	CommandServe Command = "serve"
	// CommandWorker はWebhook配信スケジューラとクリーンアップジョブを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの/healthを確認して終了する。
	// distroless環境のDocker HEALTHCHECK用で、curl等の外部コマンドを必要としない。
	CommandHealthcheck Command = "healthcheck"
)

// commands は認識されるサブコマンド名の対応表。
var commands = map[string]Command{
	"serve":       CommandServe,
	"worker":      CommandWorker,
	"migrate":     CommandMigrate,
	"healthcheck": CommandHealthcheck,
}

// ParseCommand はコマンドライン引数の先頭要素をサブコマンドとして解釈する。
// 引数なし・未知のサブコマンドはいずれもCommandServeにフォールバックする。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
