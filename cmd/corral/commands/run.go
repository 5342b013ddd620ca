package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/shepherd-project/corral/internal/catalog"
	"github.com/shepherd-project/corral/internal/cluster"
	"github.com/shepherd-project/corral/internal/config"
	"github.com/shepherd-project/corral/internal/kernel"
	"github.com/shepherd-project/corral/internal/logger"
	"github.com/shepherd-project/corral/internal/server"
	"github.com/shepherd-project/corral/internal/shutdown"
	"github.com/shepherd-project/corral/internal/storage"
	"github.com/shepherd-project/corral/internal/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a grid node",
	Long: `Run starts the local kernel and, when enabled, the admin API.
A missing configuration file is created with defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd)
	},
}

func runNode(cmd *cobra.Command) error {
	configMgr := config.NewManager(cfgFile)
	cfg, err := configMgr.Load()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	if err := logger.InitLogger(&cfg.Log, "node"); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}
	log := logger.GetLogger()

	log.Info("Corral 正在启动...")
	log.Infof("版本: %s", version.Version)
	log.Infof("配置文件: %s", configMgr.GetConfigPath())

	storageMgr, err := storage.NewManager(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}

	topology, err := buildTopology(cfg)
	if err != nil {
		storageMgr.Close()
		return err
	}

	k, err := kernel.New(kernel.Options{
		Name:        cfg.Grid.Name,
		Topology:    topology,
		Store:       storageMgr.GetStore(),
		Logger:      log,
		Registerer:  prometheus.DefaultRegisterer,
		EventBuffer: cfg.Registry.EventBuffer,
		Directory:   kernel.DefaultDirectory,
	})
	if err != nil {
		storageMgr.Close()
		return err
	}
	if err := k.Start(); err != nil {
		storageMgr.Close()
		return fmt.Errorf("启动内核失败: %w", err)
	}

	shutdownMgr := shutdown.NewManager(time.Duration(cfg.Gateway.ShutdownTimeout)*time.Second, log)

	// 1. 优先级最高：停止接受新连接（HTTP服务器）
	if cfg.Server.Enabled {
		srv := server.NewServer(server.ConfigFrom(&cfg.Server), k, catalog.Builtin(), prometheus.DefaultGatherer, log)
		if err := srv.Start(); err != nil {
			_ = k.Stop(context.Background())
			storageMgr.Close()
			return fmt.Errorf("无法启动服务器: %w", err)
		}
		shutdownMgr.Register("http-server", srv.Shutdown, shutdown.PriorityCritical)
		fmt.Fprintf(cmd.OutOrStdout(), "✓ 管理 API: http://%s\n", srv.Addr())
	}

	// 2. 优先级高：关闭生命周期网关并取消本地服务实例
	shutdownMgr.Register("kernel", k.Stop, shutdown.PriorityHigh)

	// 3. 优先级中：关闭部署历史存储
	shutdownMgr.Register("storage", func(ctx context.Context) error {
		return storageMgr.Close()
	}, shutdown.PriorityNormal)

	// 4. 优先级低：关闭日志系统
	shutdownMgr.Register("logger", func(ctx context.Context) error {
		log.Info("日志系统已关闭")
		return log.Close()
	}, shutdown.PriorityLow)

	shutdownMgr.Start()

	fmt.Fprintf(cmd.OutOrStdout(), "✓ 网格: %s\n", k.Name())
	fmt.Fprintf(cmd.OutOrStdout(), "✓ 节点: %s (已知节点 %d)\n", k.NodeID(), topology.Size())
	fmt.Fprintln(cmd.OutOrStdout(), "\n按 Ctrl+C 停止节点...")

	err = shutdownMgr.Wait()
	fmt.Fprintln(cmd.OutOrStdout(), "✓ 节点已关闭")
	return err
}

// buildTopology creates the local node and joins the configured static peers
func buildTopology(cfg *config.Config) (*cluster.Topology, error) {
	nodeID := uuid.New()
	if cfg.Node.ID != "" && cfg.Node.ID != config.AutoNodeID {
		id, err := uuid.Parse(cfg.Node.ID)
		if err != nil {
			return nil, fmt.Errorf("无效的节点ID %q: %w", cfg.Node.ID, err)
		}
		nodeID = id
	}

	attrs := cluster.LocalAttributes()
	for k, v := range cfg.Node.Attributes {
		attrs[k] = v
	}

	topology := cluster.NewTopology(&cluster.Node{
		ID:         nodeID,
		Name:       cfg.Node.Name,
		Attributes: attrs,
	})

	for _, peer := range cfg.Grid.Peers {
		id, err := uuid.Parse(peer)
		if err != nil {
			return nil, fmt.Errorf("无效的对等节点ID %q: %w", peer, err)
		}
		if id == nodeID {
			continue
		}
		topology.Join(&cluster.Node{ID: id})
	}

	return topology, nil
}
