// dualpath 是双路径 HTTP 客户端的命令行入口：
// serve 常驻运行周期探测和控制面，probe 执行一次连通性检查，get 经管道发起一次请求。
package main

import (
	"fmt"
	"os"
)

// 构建时通过 -ldflags "-X main.version=..." 注入
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
