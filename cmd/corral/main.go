// Corral - 节点本地服务部署网格
// 这是主程序入口文件
package main

import (
	"fmt"
	"os"

	"github.com/shepherd-project/corral/cmd/corral/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
