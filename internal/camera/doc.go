// Package camera カメラストリームの取得と画像キャプチャを担う
//
// # 責務
// - カメラストリームの取得と解放（Start/Stop）
// - 現在のフレームのJPEGエンコードとサムネイル生成
// - 間隔指定の自動キャプチャとキャンセル
// - カメラアクセス失敗の分類（権限・デバイス無し・使用中）
// - 状態変化とキャプチャのイベント通知
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - ペットの生体登録用に複数枚の写真を撮影したい
// - カメラの有効状態をハードウェアの状態から判定したい
// - 撮影の進行をSSEなどで購読したい
//
// # 仕様
//   - Session: 1つのストリームとキャプチャ済みフレームを管理する
//     状態は idle → starting → active → capturing → stopping → idle と遷移する
//   - 自動キャプチャ: 前回のキャプチャ完了後に次をスケジュールし、重ならない
//     撮影枚数は min(要求枚数, 残り枠) に制限される
//   - MediaSource: V4L2Source（ffmpeg経由）とテスト用のMockMediaSource
//   - Discovery: V4L2デバイスの自動検出・実名取得
//   - Thread-safe な操作をサポート
//
// # 前提要件
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: 画像キャプチャとストリーミングに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
