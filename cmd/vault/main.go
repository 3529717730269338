// Command vault is a small CLI over the vault client: list repos,
// unlock, list, upload and download encrypted files.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/client"
	"github.com/rclone/vault/relativetime"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/repos"
	"github.com/rclone/vault/store"
	"github.com/rclone/vault/transfers"
)

var (
	verbose     bool
	accessToken string
)

func newClient() (*client.Client, error) {
	if verbose {
		vault.SetLogLevel(vault.LogLevelDebug)
	}
	cfg, err := vault.LoadConfig()
	if err != nil {
		return nil, err
	}
	options := client.Options{Config: cfg}
	if accessToken != "" {
		options.Auth = &remote.StaticAuthProvider{Authorization: "Bearer " + accessToken}
	}
	return client.New(options)
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func unlockedRepo(ctx context.Context, c *client.Client, repoName string) (vault.RepoId, error) {
	if err := c.Repos.LoadRepos(ctx); err != nil {
		return "", err
	}
	var repoId vault.RepoId
	c.Store.WithState(func(state *store.State) {
		for id, repo := range state.Repos.Repos {
			if string(repo.Name) == repoName || string(id) == repoName {
				repoId = id
				return
			}
		}
	})
	if repoId == "" {
		return "", fmt.Errorf("repo %q not found", repoName)
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return "", err
	}
	if err := c.Repos.UnlockRepo(repoId, password, repos.UnlockModeUnlock); err != nil {
		return "", err
	}
	return repoId, nil
}

func newReposCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List vault repos",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := c.Repos.LoadRepos(ctx); err != nil {
				return err
			}
			c.Store.WithState(func(state *store.State) {
				for _, repo := range state.Repos.Repos {
					fmt.Printf("%s\t%s\t%s:%s\n", repo.Id, repo.Name, repo.MountId, repo.Path)
				}
			})
			return nil
		},
	}
	return cmd
}

func newLsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls repo [path]",
		Short: "List a repo directory with decrypted names",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			repoId, err := unlockedRepo(ctx, c, args[0])
			if err != nil {
				return err
			}
			path := vault.DecryptedPath("/")
			if len(args) > 1 {
				path = vault.DecryptedPath(args[1])
			}
			encryptedPath, err := c.RepoFiles.EncryptPath(repoId, path)
			if err != nil {
				return err
			}
			if err := c.RepoFiles.LoadFiles(ctx, repoId, encryptedPath); err != nil {
				return err
			}
			var files []*store.RepoFile
			c.Store.WithState(func(state *store.State) {
				for _, file := range state.RepoFiles.Files {
					if file.RepoId == repoId && file.EncryptedPath != "/" {
						parent, _ := vault.EncryptedPathParent(file.EncryptedPath)
						if parent == encryptedPath {
							files = append(files, file)
						}
					}
				}
			})
			now := time.Now().UnixMilli()
			for _, file := range files {
				name := string(file.Name.Decrypted)
				if file.Name.Error != nil {
					name = fmt.Sprintf("<%s>", file.Name.Encrypted)
				}
				kind := "-"
				if file.Type == store.FileTypeDir {
					kind = "d"
				}
				modified := ""
				if file.Modified != nil {
					modified = relativetime.Diff(now, *file.Modified)
				}
				fmt.Printf("%s %12d %-16s %s\n", kind, file.Size.Size, modified, name)
			}
			return nil
		},
	}
	return cmd
}

func newUploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload repo local-file [dest-dir]",
		Short: "Encrypt and upload a local file into a repo",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			repoId, err := unlockedRepo(ctx, c, args[0])
			if err != nil {
				return err
			}
			destDir := vault.DecryptedPath("/")
			if len(args) > 2 {
				destDir = vault.DecryptedPath(args[2])
			}
			encryptedParent, err := c.RepoFiles.EncryptPath(repoId, destDir)
			if err != nil {
				return err
			}
			name := vault.DecryptedName(filepath.Base(args[1]))
			result, err := c.Transfers.Upload(ctx, repoId, encryptedParent, name, &transfers.FileUploadable{Path: args[1]})
			if err != nil {
				return err
			}
			fmt.Printf("uploaded %s\n", result.Name)
			return nil
		},
	}
	return cmd
}

func newDownloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download repo path [local-file]",
		Short: "Download and decrypt a repo file",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			repoId, err := unlockedRepo(ctx, c, args[0])
			if err != nil {
				return err
			}
			path := vault.DecryptedPath(args[1])
			encryptedPath, err := c.RepoFiles.EncryptPath(repoId, path)
			if err != nil {
				return err
			}
			parent, _ := vault.EncryptedPathParent(encryptedPath)
			if err := c.RepoFiles.LoadFiles(ctx, repoId, parent); err != nil {
				return err
			}
			file, err := c.RepoFiles.GetFile(repoId, encryptedPath)
			if err != nil {
				return err
			}
			provider, err := c.RepoFilesRead.GetFileReader(repoId, encryptedPath)
			if err != nil {
				return err
			}
			dest := filepath.Base(args[1])
			if len(args) > 2 {
				dest = args[2]
			}
			// a persistent download lands in the object cache; a
			// repeated download of unchanged content is served from
			// there
			if err := c.Transfers.Download(ctx, provider, c.LocalCache.NewDownloadable(), true); err != nil {
				return err
			}
			cached, ok, err := c.LocalCache.Open(file.UniqueName)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("downloaded object missing from cache")
			}
			defer func() {
				_ = cached.Close()
			}()
			out, err := os.Create(dest)
			if err != nil {
				return err
			}
			if _, err := out.ReadFrom(cached); err != nil {
				_ = out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			fmt.Printf("downloaded %s\n", dest)
			return nil
		},
	}
	return cmd
}

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create mount-id path",
		Short: "Create a new vault repo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			password, err := readPassword("New repo password: ")
			if err != nil {
				return err
			}
			result, err := c.Repos.CreateRepo(cmd.Context(), vault.MountId(args[0]), vault.RemotePath(args[1]), password, nil)
			if err != nil {
				return err
			}
			fmt.Printf("created repo %s\n", result.RepoId)
			fmt.Println(strings.TrimSpace(result.Config.Config))
			return nil
		},
	}
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:           "vault",
		Short:         "Client-side encrypted vault for Koofr compatible storage",
		Version:       vault.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&accessToken, "access-token", os.Getenv("VAULT_ACCESS_TOKEN"), "api access token")
	root.AddCommand(newReposCommand(), newLsCommand(), newUploadCommand(), newDownloadCommand(), newCreateCommand())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "vault: %v\n", err)
		os.Exit(1)
	}
}
