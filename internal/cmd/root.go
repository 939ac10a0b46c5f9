package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   string
	BuildTime string
	cfgFile   string
)

var rootCmd = &cobra.Command{
	Use:   "polyrelay",
	Short: "Multi-account pool and admission control service",
	Long: `Polyrelay maintains a pool of upstream accounts with per-class quota
cooldowns, round-robin dispatch, session affinity and durable account storage.`,
	RunE: runServe, // 默认启动服务
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局标志
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("database-url", "", "postgres connection url (empty selects sqlite)")
	rootCmd.PersistentFlags().String("sqlite-path", "./data/polyrelay.db", "sqlite database path")

	// 服务器标志（直接在root命令使用）
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8050, "server port")
	rootCmd.Flags().String("mode", "release", "server mode (debug/release/test)")

	// 绑定到viper
	viper.BindPFlag("storage.database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("storage.sqlite_path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.mode", rootCmd.Flags().Lookup("mode"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./data")
		viper.AddConfigPath("$HOME/.polyrelay")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// 配置文件不存在时由 LoadOrCreate 创建
		if cfgFile == "" {
			viper.SetConfigFile("./config.yaml")
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
