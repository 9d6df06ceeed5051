package commands

import (
	"fmt"
	"os"

	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	throwaway "github.com/rukai/aws-throwaway"
)

var createFlags struct {
	app          string
	count        int
	instanceType string
	os           string
	volumeSizeGB int32
	nicCount     int
	private      bool
	keep         bool
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Launch throwaway instances and verify SSH reachability",
	Long: `Launches the requested instances, runs a command over SSH on each to prove
reachability, and prints connection instructions. Unless --keep is given,
everything is destroyed before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := clog.FromContext(ctx)

		scope := throwaway.ScopeAll()
		if createFlags.app != "" {
			scope = throwaway.ScopeApp(createFlags.app)
		}
		session, err := throwaway.New(ctx, throwaway.Config{
			Scope:               scope,
			UsePrivateAddresses: createFlags.private,
		})
		if err != nil {
			return err
		}
		if !createFlags.keep {
			defer func() {
				if err := session.CleanupResources(cmd.Context()); err != nil {
					log.Error("cleanup failed, rerun 'throwaway cleanup'", "error", err)
				}
			}()
		}

		def := throwaway.InstanceDefinition{
			InstanceType:          ec2types.InstanceType(createFlags.instanceType),
			VolumeSizeGB:          createFlags.volumeSizeGB,
			NetworkInterfaceCount: createFlags.nicCount,
			OS:                    throwaway.OS(createFlags.os),
		}

		instances := make([]*throwaway.EC2Instance, createFlags.count)
		eg, egCtx := errgroup.WithContext(ctx)
		for n := range instances {
			eg.Go(func() error {
				instance, err := session.CreateEC2Instance(egCtx, def)
				if err != nil {
					return err
				}
				instances[n] = instance
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}

		for _, instance := range instances {
			result, err := instance.Shell(ctx, "uname -a")
			if err != nil {
				return err
			}
			log.Info("instance reachable", "host", instance.ConnectIP(), "uname", result.Stdout)
			fmt.Fprintln(os.Stdout, instance.SSHInstructions())
		}
		if createFlags.keep {
			fmt.Fprintln(os.Stdout, "instances kept running, destroy them with 'throwaway cleanup'")
		}
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createFlags.app, "app", "", "application label to tag and scope resources with")
	createCmd.Flags().IntVar(&createFlags.count, "count", 1, "number of instances to launch")
	createCmd.Flags().StringVar(&createFlags.instanceType, "instance-type", "t3.medium", "EC2 instance type")
	createCmd.Flags().StringVar(&createFlags.os, "os", string(throwaway.OSUbuntu2204), "Ubuntu release (20.04 or 22.04)")
	createCmd.Flags().Int32Var(&createFlags.volumeSizeGB, "volume-size", 8, "root volume size in GB")
	createCmd.Flags().IntVar(&createFlags.nicCount, "nics", 1, "network interfaces per instance")
	createCmd.Flags().BoolVar(&createFlags.private, "private", false, "connect over private addresses instead of public ones")
	createCmd.Flags().BoolVar(&createFlags.keep, "keep", false, "leave instances running on exit")
}
