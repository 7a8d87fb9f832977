package repository

import (
	"app/internal/domain/model"
	"context"
)

type UserRepository interface {
	FindByID(ctx context.Context, userID int64) (model.User, error)

	//アクティブなユーザー数（ダッシュボード用）
	CountActive(ctx context.Context) (int64, error)
}
