package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"blockhyre/internal/domain/user"
)

type UserRepository struct {
	col *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{col: db.Collection("users")}
}

// EnsureIndexes enforces email uniqueness at the store level.
func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *UserRepository) ByID(ctx context.Context, id user.ID) (*user.User, error) {
	var doc userDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, user.ErrNotFound
		}
		return nil, err
	}
	return doc.toUser(), nil
}

func (r *UserRepository) ByEmail(ctx context.Context, email string) (*user.User, error) {
	var doc userDocument
	if err := r.col.FindOne(ctx, bson.M{"email": email}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, user.ErrNotFound
		}
		return nil, err
	}
	return doc.toUser(), nil
}

func (r *UserRepository) Save(ctx context.Context, u *user.User) error {
	doc := newUserDocument(u)
	opts := options.Replace().SetUpsert(true)
	if _, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.ErrEmailAlreadyUsed
		}
		return err
	}
	return nil
}

type userDocument struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	Name         string    `bson:"name"`
	AvatarURL    string    `bson:"avatar_url,omitempty"`
	PasswordHash string    `bson:"password_hash"`
	Roles        []string  `bson:"roles"`
	Blocked      bool      `bson:"blocked"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func newUserDocument(u *user.User) userDocument {
	roles := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		roles = append(roles, string(role))
	}
	return userDocument{
		ID:           string(u.ID),
		Email:        u.Email,
		Name:         u.Name,
		AvatarURL:    u.AvatarURL,
		PasswordHash: u.PasswordHash,
		Roles:        roles,
		Blocked:      u.Blocked,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (d userDocument) toUser() *user.User {
	roles := make([]user.Role, 0, len(d.Roles))
	for _, role := range d.Roles {
		roles = append(roles, user.Role(role))
	}
	return &user.User{
		ID:           user.ID(d.ID),
		Email:        d.Email,
		Name:         d.Name,
		AvatarURL:    d.AvatarURL,
		PasswordHash: d.PasswordHash,
		Roles:        roles,
		Blocked:      d.Blocked,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

var _ user.Repository = (*UserRepository)(nil)
